package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/unklstewy/flightglobe/internal/scene"
)

// flight-board is a terminal client for the flightglobe scene stream. It
// lists the aircraft currently on the globe with their position and heading.

const maxVisibleRows = 25

type sceneMsg scene.Message

type connMsg struct {
	connected bool
	err       error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	board      *board
	server     string
	connected  bool
	err        error
	selected   int
	lastUpdate time.Time
	now        time.Time
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.board.nodes)-1 {
				m.selected++
			}
		}
	case sceneMsg:
		m.board.apply(scene.Message(msg))
		m.lastUpdate = time.Now()
		if m.selected >= len(m.board.nodes) {
			m.selected = max(0, len(m.board.nodes)-1)
		}
	case connMsg:
		m.connected = msg.connected
		m.err = msg.err
	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	s.WriteString(titleStyle.Render("FLIGHTGLOBE BOARD"))
	s.WriteString("  ")

	if m.connected {
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Render("● " + m.server))
	} else {
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("○ " + m.server))
	}
	s.WriteString("\n\n")

	if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		s.WriteString(errStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n\n")
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	s.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %9s %10s %8s %5s", "FLIGHT", "LAT", "LON", "ALT(m)", "HDG")))
	s.WriteString("\n")

	rows := m.board.rows()
	if len(rows) == 0 {
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("  No aircraft in view"))
		s.WriteString("\n")
	}

	start := 0
	if m.selected >= maxVisibleRows {
		start = m.selected - maxVisibleRows + 1
	}
	for i := start; i < len(rows) && i < start+maxVisibleRows; i++ {
		r := rows[i]
		hdg := "  ---"
		if r.Oriented {
			hdg = fmt.Sprintf("%5.0f", r.Heading)
		}
		line := fmt.Sprintf("%-10s %9.4f %10.4f %8.0f %s", r.Label, r.Lat, r.Lon, r.Alt, hdg)
		if i == m.selected {
			line = lipgloss.NewStyle().
				Background(lipgloss.Color("237")).
				Foreground(lipgloss.Color("226")).
				Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	age := "never"
	if !m.lastUpdate.IsZero() && !m.now.IsZero() {
		age = fmt.Sprintf("%.0fs ago", m.now.Sub(m.lastUpdate).Seconds())
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(fmt.Sprintf("%d aircraft · %d airports · %d routes · last update %s",
		len(rows), m.board.airports, m.board.routes, age)))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓ select · q quit"))

	return s.String()
}

// stream connects to the scene endpoint and forwards every message to the
// program, reconnecting with backoff until ctx is done.
func stream(ctx context.Context, p *tea.Program, endpoint string, enc scene.Encoding) {
	delay := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			p.Send(connMsg{err: err})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, 30*time.Second)
			continue
		}

		delay = time.Second
		p.Send(connMsg{connected: true})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				p.Send(connMsg{err: err})
				break
			}
			msg, err := scene.Decode(data, enc)
			if err != nil {
				continue
			}
			p.Send(sceneMsg(msg))
		}
		conn.Close()
	}
}

func main() {
	server := flag.String("server", "ws://localhost:8080/ws/scene", "Scene WebSocket URL")
	encoding := flag.String("enc", "msgpack", "Frame encoding: json or msgpack")
	flag.Parse()

	enc, err := scene.ParseEncoding(*encoding)
	if err != nil {
		log.Fatalf("Invalid encoding: %v", err)
	}
	u, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	q := u.Query()
	q.Set("enc", enc.String())
	u.RawQuery = q.Encode()

	m := model{
		board:  newBoard(),
		server: u.Host,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream(ctx, p, u.String(), enc)

	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}
