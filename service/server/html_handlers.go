package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/brojonat/nodedash/service/console"
	"github.com/brojonat/nodedash/service/monitor"
	"github.com/brojonat/nodedash/service/transfer"
)

//go:embed templates/*.html
var templatesFS embed.FS

const recentTransactions = 10

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"short": shortAddress,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

type dashboardData struct {
	Nodes        []nodeResponse
	Presets      []console.Preset
	Commands     []console.Entry
	Transactions []transfer.Transaction
	Settings     monitor.Settings
	Status       networkStatusResponse
	Modes        []monitor.NetworkMode
	TotalBalance string
}

// handleDashboardPage serves the dashboard with the current state rendered in.
// Live updates arrive over /ws.
func handleDashboardPage(renderer *TemplateRenderer, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes := deps.Registry.List()
		resp := make([]nodeResponse, len(nodes))
		for i, n := range nodes {
			resp[i] = nodeToResponse(n)
		}

		data := dashboardData{
			Nodes:        resp,
			Presets:      console.Presets(),
			Commands:     deps.Console.History(),
			Transactions: deps.Transfers.Ledger().Transactions(recentTransactions),
			Settings:     deps.Monitor.Settings(),
			Status:       toNetworkStatus(deps.Monitor.Status(), nil),
			Modes:        []monitor.NetworkMode{monitor.Mainnet, monitor.Testnet, monitor.Devnet},
			TotalBalance: deps.Registry.TotalBalance().StringFixed(balancePlaces),
		}
		if err := renderer.Render(w, "dashboard.html", data); err != nil {
			renderer.logger.Error("failed to render template", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32"><rect width="32" height="32" rx="6" fill="#1e3a8a"/><circle cx="10" cy="16" r="4" fill="#60a5fa"/><circle cx="22" cy="10" r="3" fill="#93c5fd"/><circle cx="22" cy="22" r="3" fill="#93c5fd"/><path d="M10 16L22 10M10 16L22 22" stroke="#bfdbfe" stroke-width="1.5"/></svg>`

func handleFavicon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(faviconSVG))
	}
}

// shortAddress abbreviates a base58 address for display.
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
