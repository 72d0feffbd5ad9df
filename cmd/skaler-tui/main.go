package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/skaler/pkg/client"
)

// Config
const (
	pollRate       = time.Second
	fetchTimeout   = 500 * time.Millisecond
	maxEvents      = 20
	viewportHeight = 20
	barWidth       = 30
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	// Layout styles
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	nameStyle = lipgloss.NewStyle().Width(20)

	// Event styles
	eventTimeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	eventProviderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")) // Purple

	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Width(24) // Red
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Width(24)  // Green
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(24)  // Blue
)

type tickMsg time.Time

type dataMsg struct {
	status client.Status
	events []client.Event
	err    error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	bar      progress.Model
	status   client.Status
	events   []client.Event
	err      error
	ready    bool
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:      api,
		spinner:  s,
		viewport: newViewport(100),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = msg.status
			m.events = msg.events
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

// updateViewportContent renders events newest first, as the daemon returns them.
func (m *model) updateViewportContent() {
	var sb strings.Builder

	for _, e := range m.events {
		ts := e.TsEvent.Local().Format("15:04:05")

		var typeStr string
		switch {
		case strings.HasSuffix(e.EventType, "_failed") || e.EventType == "no_available_providers":
			typeStr = failStyle.Render(e.EventType)
		case strings.HasSuffix(e.EventType, "_succeeded"):
			typeStr = passStyle.Render(e.EventType)
		default:
			typeStr = infoStyle.Render(e.EventType)
		}

		detail := e.URL
		if e.StatusCode != 0 {
			detail = fmt.Sprintf("%d %s", e.StatusCode, e.URL)
		}
		if e.Error != "" {
			detail = e.Error
		}

		line := fmt.Sprintf("%s %s %s %s\n",
			eventTimeStyle.Render(ts),
			typeStr,
			eventProviderStyle.Render(e.Provider),
			subtleStyle.Render(detail),
		)
		sb.WriteString(line)
	}

	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	var providers strings.Builder
	providers.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Providers") + "\n\n")

	if len(m.status.Providers) == 0 {
		providers.WriteString(subtleStyle.Render("No providers configured."))
	}
	for _, p := range m.status.Providers {
		providers.WriteString(m.providerLine(p) + "\n")
	}

	if len(m.status.Proxies) > 0 {
		providers.WriteString("\n" + lipgloss.NewStyle().Bold(true).Underline(true).Render("Proxies") + "\n\n")
		for _, p := range m.status.Proxies {
			state := okStyle.Render("ready")
			if p.Blocked {
				state = errorStyle.Render("blocked")
			}
			providers.WriteString(fmt.Sprintf("%s %s\n", nameStyle.Render(p.Proxy), state))
		}
	}

	topPane := paneStyle.Render(providers.String())

	header := headerStyle.Render(fmt.Sprintf("%s Dispatch Stream", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d Providers • %d Events", len(m.status.Providers), len(m.events)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

func (m model) providerLine(p client.ProviderStatus) string {
	var state string
	switch {
	case p.Error != "":
		state = errorStyle.Render("error: " + p.Error)
	case p.Blocked:
		state = errorStyle.Render("blocked")
	case !p.Available:
		state = subtleStyle.Render("exhausted")
	default:
		state = okStyle.Render("available")
	}

	if p.Limit <= 0 {
		return fmt.Sprintf("%s %s %s", nameStyle.Render(p.Name), subtleStyle.Render(fmt.Sprintf("%-*s", barWidth, "unlimited")), state)
	}
	ratio := float64(p.Usage) / float64(p.Limit)
	if ratio > 1 {
		ratio = 1
	}
	return fmt.Sprintf("%s %s %d/%d %s", nameStyle.Render(p.Name), m.bar.ViewAs(ratio), p.Usage, p.Limit, state)
}

// Commands

func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := api.Status(ctx)
		if err != nil {
			return dataMsg{err: err}
		}

		events, err := api.GetEvents(ctx, maxEvents)
		if err != nil {
			return dataMsg{err: err}
		}

		return dataMsg{status: status, events: events}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := flag.String("endpoint", envOr("SKALER_ENDPOINT", client.DefaultEndpoint), "skaler-d endpoint")
	flag.Parse()

	api := client.NewClient(*endpoint, client.WithToken(os.Getenv("SKALER_API_TOKEN")))
	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
