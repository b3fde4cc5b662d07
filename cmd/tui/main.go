package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/qijun/dashchat/backend/internal/client"
)

const defaultAPIBase = "http://localhost:8080/api"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	aiStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type stateChangedMsg struct{}

type bootstrapDoneMsg struct{ err error }

type sendDoneMsg struct{ err error }

type switchDoneMsg struct{ err error }

type model struct {
	conv     *client.Conversation
	coord    *client.Coordinator
	selector *client.Selector

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool
	status string
}

func newModel(conv *client.Conversation, coord *client.Coordinator, selector *client.Selector) model {
	input := textinput.New()
	input.Placeholder = "输入消息，回车发送"
	input.Focus()
	input.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		conv:     conv,
		coord:    coord,
		selector: selector,
		input:    input,
		spin:     sp,
		status:   "connecting...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.bootstrapCmd())
}

func (m model) bootstrapCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return bootstrapDoneMsg{err: m.selector.Bootstrap(ctx)}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{err: m.coord.Send(context.Background(), text)}
	}
}

func (m model) cycleSessionCmd() tea.Cmd {
	sessions := m.conv.Sessions()
	if len(sessions) < 2 {
		return nil
	}
	active := m.conv.ActiveSessionID()
	next := sessions[0].ID
	for i, s := range sessions {
		if s.ID == active {
			next = sessions[(i+1)%len(sessions)].ID
			break
		}
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return switchDoneMsg{err: m.selector.SwitchSession(ctx, next)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case bootstrapDoneMsg:
		if msg.err != nil {
			m.status = errStyle.Render("加载会话失败: " + msg.err.Error())
		} else {
			m.status = "ready"
		}
		m.renderTranscript()

	case stateChangedMsg:
		m.renderTranscript()

	case sendDoneMsg:
		switch msg.err {
		case nil:
			m.status = "ready"
		case client.ErrEmptyMessage:
			// nothing was sent, keep quiet
		case client.ErrSendInFlight:
			m.status = statusStyle.Render("回复生成中，请稍候")
		default:
			m.status = errStyle.Render(msg.err.Error())
		}
		m.renderTranscript()

	case switchDoneMsg:
		if msg.err != nil {
			m.status = errStyle.Render(msg.err.Error())
		}
		m.renderTranscript()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.input.Width = msg.Width - 4
		m.renderTranscript()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				break
			}
			m.input.Reset()
			cmds = append(cmds, m.sendCmd(text))
		case "esc":
			m.coord.Abort()
		case "ctrl+n":
			if !m.conv.Sending() {
				m.selector.NewSession()
				m.status = "新会话"
			}
		case "ctrl+o":
			if !m.conv.Sending() {
				if cmd := m.cycleSessionCmd(); cmd != nil {
					cmds = append(cmds, cmd)
				}
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) renderTranscript() {
	if !m.ready {
		return
	}

	var b strings.Builder
	for _, msg := range m.conv.Messages() {
		if msg.IsUser {
			b.WriteString(userStyle.Render("你: "))
		} else {
			b.WriteString(aiStyle.Render("AI: "))
		}
		content := msg.Content
		if content == "" && msg.Provisional() {
			content = m.spin.View() + " 思考中..."
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(b.String()))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	title := titleStyle.Render("dashchat")
	session := ""
	if id := m.conv.ActiveSessionID(); id != "" {
		for _, s := range m.conv.Sessions() {
			if s.ID == id {
				session = statusStyle.Render(" · " + s.Title)
				break
			}
		}
	}

	status := m.status
	if m.conv.Sending() {
		status = m.spin.View() + " 回复生成中，Esc 取消"
	}

	help := statusStyle.Render("Enter 发送 · Esc 取消 · Ctrl+N 新会话 · Ctrl+O 切换会话 · Ctrl+C 退出")

	return fmt.Sprintf("%s%s\n%s\n%s\n%s\n%s",
		title, session,
		m.viewport.View(),
		m.input.View(),
		status,
		help,
	)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	base := strings.TrimSpace(os.Getenv("CHAT_API_URL"))
	if base == "" {
		base = defaultAPIBase
	}
	base = strings.TrimRight(base, "/")

	api := client.NewAPI(base)
	conv := client.NewConversation()
	coord := client.NewCoordinator(conv, api, client.NewTransport(), api.ReplyURL())
	selector := client.NewSelector(conv, api)

	p := tea.NewProgram(newModel(conv, coord, selector), tea.WithAltScreen())
	conv.SetOnChange(func() {
		p.Send(stateChangedMsg{})
	})

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}
