package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const PlaceHolderText = "Write a program here, e.g. print(get_position().x) ..."

// turnEntry is one submitted program and what came back.
type turnEntry struct {
	program string
	result  *TurnResult
	err     error
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config             *ConsoleConfig
	client             *http.Client
	record             *SessionRecord
	turns              []turnEntry
	transcriptViewport viewport.Model
	metaViewport       viewport.Model
	textarea           textarea.Model
	ready              bool
	width              int
	height             int
	err                error
	loading            bool
	notice             string

	// Quit confirmation state
	showQuitModal bool

	// Progress bar state
	progressTick int
}

type turnResultMsg struct {
	program string
	result  *TurnResult
	err     error
}

type resetDoneMsg struct {
	err error
}

type progressTickMsg struct{}

var (
	transcriptPanelStyle = lipgloss.NewStyle().
				PaddingTop(2).
				PaddingBottom(1).
				PaddingLeft(3).
				PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	stdoutStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	programStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client, record *SessionRecord) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 8000
	ta.SetWidth(50)
	ta.SetHeight(5)
	ta.ShowLineNumbers = false

	transcriptVp := viewport.New(50, 20)
	transcriptVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:             cfg,
		client:             client,
		record:             record,
		textarea:           ta,
		transcriptViewport: transcriptVp,
		metaViewport:       metaVp,
		ready:              false,
	}
}

func (m *ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString("Actor:\n")
	content.WriteString(cases.Title(language.English).String(m.record.Name) + "\n\n")

	content.WriteString("Handle:\n")
	content.WriteString(fmt.Sprintf("%d\n\n", m.record.Handle))

	content.WriteString("Turns:\n")
	content.WriteString(fmt.Sprintf("%d total\n\n", len(m.turns)))

	if m.notice != "" {
		content.WriteString(noticeStyle.Render(m.notice) + "\n\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+R: Run program\n")
	content.WriteString("• Ctrl+Y: Copy output\n")
	content.WriteString("• /reset: Reset episode\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• Ctrl+C: Quit\n")

	return content.String()
}

// writeTranscript rebuilds the transcript content for the current
// viewport width.
func (m *ConsoleUI) writeTranscript() {
	width := m.transcriptViewport.Width - 6 // Account for panel padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("BELTLINE CONSOLE") + "\n\n")
	content.WriteString("Programs run in a persistent namespace; names survive across turns.\n")
	content.WriteString("Write Lua below and press Ctrl+R to run it.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(width-6, 1))) + "\n\n")

	for _, turn := range m.turns {
		for _, line := range strings.Split(strings.TrimRight(turn.program, "\n"), "\n") {
			content.WriteString(programStyle.Render(">> ") + wordwrap.String(line, width-6) + "\n")
		}
		content.WriteString("\n")

		switch {
		case turn.err != nil:
			content.WriteString(errorStyle.Render("Error: "+turn.err.Error()) + "\n\n")
		case turn.result != nil:
			if turn.result.Stdout != "" {
				content.WriteString(stdoutStyle.Render(wordwrap.String(strings.TrimRight(turn.result.Stdout, "\n"), width)) + "\n")
			}
			if turn.result.Stderr != "" {
				content.WriteString(errorStyle.Render(wordwrap.String(strings.TrimRight(turn.result.Stderr, "\n"), width)) + "\n")
			}
			if turn.result.Stdout == "" && turn.result.Stderr == "" {
				content.WriteString(promptStyle.Render("(no output)") + "\n")
			}
			content.WriteString("\n")
		}
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.transcriptViewport.SetContent(content.String())
	m.transcriptViewport.GotoBottom()
}

func (m ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		// Pass mouse events to the transcript viewport for scrolling and
		// text selection; the other components ignore out-of-bounds events.
		m.transcriptViewport, vpCmd = m.transcriptViewport.Update(msg)
		m.textarea, tiCmd = m.textarea.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(tiCmd, vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		transcriptWidth := int(float64(m.width)*0.75) - 4
		metaWidth := m.width - transcriptWidth - 6

		m.transcriptViewport.Width = transcriptWidth - 2
		m.transcriptViewport.Height = m.height - 10
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(transcriptWidth - 4)

		m.ready = true
		m.writeTranscript()
		m.metaViewport.SetContent(m.writeMetadata())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil

		case tea.KeyCtrlY:
			m.notice = m.copyLastObservation()
			m.metaViewport.SetContent(m.writeMetadata())
			return m, nil

		case tea.KeyCtrlR:
			if m.loading {
				return m, nil
			}
			program := strings.TrimSpace(m.textarea.Value())
			if program == "" {
				return m, nil
			}

			m.textarea.Reset()
			m.notice = ""
			m.loading = true
			m.progressTick = 0
			m.writeTranscript()
			return m, tea.Batch(m.submitProgram(program), progressTick())

		case tea.KeyEnter:
			// Single-line slash commands run on Enter; everything else is
			// program text and Enter just breaks the line.
			input := strings.TrimSpace(m.textarea.Value())
			if strings.HasPrefix(input, "/") && !strings.Contains(input, "\n") {
				return m.handleCommand(input)
			}
		}

	case turnResultMsg:
		m.loading = false
		m.turns = append(m.turns, turnEntry{program: msg.program, result: msg.result, err: msg.err})
		if msg.err != nil {
			m.err = msg.err
		}
		m.writeTranscript()
		m.metaViewport.SetContent(m.writeMetadata())
		return m, nil

	case resetDoneMsg:
		m.loading = false
		if msg.err != nil {
			m.notice = "Reset failed: " + msg.err.Error()
		} else {
			m.turns = nil
			m.notice = "Episode reset"
		}
		m.writeTranscript()
		m.metaViewport.SetContent(m.writeMetadata())
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeTranscript()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.transcriptViewport, vpCmd = m.transcriptViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd := strings.ToLower(strings.TrimSpace(input))

	switch cmd {
	case "/help":
		helpText := `
Commands:
• /help - Show this help
• /reset - Reset the episode (fresh namespace, cleared queues)
• Ctrl+R - Run the program in the editor
• Ctrl+Y - Copy the last turn's output to the clipboard
• Ctrl+C - Quit

Bindings available to programs:
• place_entity, remove_entity, get_entities, snapshot
• move_to, request_path, get_path, wait
• get_position, get_inventory, production_totals
• send_message, read_messages, agent_name
`
		currentContent := m.transcriptViewport.View()
		m.transcriptViewport.SetContent(currentContent + titleStyle.Render("Help:") + helpText + "\n")
		m.transcriptViewport.GotoBottom()

	case "/reset":
		m.textarea.Reset()
		m.loading = true
		m.progressTick = 0
		return m, tea.Batch(m.submitReset(), progressTick())
	}

	m.textarea.Reset()
	return m, nil
}

// copyLastObservation puts the most recent turn's output channels on the
// system clipboard and reports what happened.
func (m *ConsoleUI) copyLastObservation() string {
	if len(m.turns) == 0 {
		return "Nothing to copy yet"
	}
	last := m.turns[len(m.turns)-1]
	if last.err != nil {
		return "Last turn failed; nothing copied"
	}

	var out strings.Builder
	out.WriteString(last.result.Stdout)
	if last.result.Stderr != "" {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(last.result.Stderr)
	}
	if err := clipboard.WriteAll(out.String()); err != nil {
		return "Clipboard unavailable"
	}
	return "Output copied"
}

func (m ConsoleUI) submitProgram(program string) tea.Cmd {
	return func() tea.Msg {
		result, err := runTurn(m.client, m.config.APIBaseURL, m.record.Handle, program)
		return turnResultMsg{program: program, result: result, err: err}
	}
}

func (m ConsoleUI) submitReset() tea.Cmd {
	return func() tea.Msg {
		return resetDoneMsg{err: resetEpisode(m.client, m.config.APIBaseURL, m.record.Handle)}
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Console?"))
	content.WriteString("\n\n")
	content.WriteString("The session and its namespace stay alive on the server.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	transcriptWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - transcriptWidth - 6

	transcriptPanel := transcriptPanelStyle.Width(transcriptWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.transcriptViewport.View(),
			"", // Empty line for spacing
			separatorStyle.Render(strings.Repeat("─", max(transcriptWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, transcriptPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.transcriptViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
