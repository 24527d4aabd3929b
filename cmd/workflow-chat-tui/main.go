// Command workflow-chat-tui is a terminal chat surface for running workflow
// turns against the live collaborators.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"workflow-chat/internal/auth"
	"workflow-chat/internal/domain"
	"workflow-chat/internal/integrations/objectstore"
	"workflow-chat/internal/integrations/paramstore"
	"workflow-chat/internal/integrations/workergate"
	"workflow-chat/internal/render"
	"workflow-chat/internal/repository"
	"workflow-chat/internal/usecase"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("183"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	selectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("183"))

	htmlTagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

type viewState int

const (
	viewPickWorkflow viewState = iota
	viewChat
)

// uiNotifier records the last transient notification for the status line.
type uiNotifier struct {
	mu        sync.Mutex
	notice    string
	signedOut bool
}

func (n *uiNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notice = message
}

func (n *uiNotifier) SignedOut() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signedOut = true
}

func (n *uiNotifier) take() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	notice, signedOut := n.notice, n.signedOut
	n.notice = ""
	return notice, signedOut
}

type workflowsLoadedMsg struct {
	flows []domain.WorkflowConfig
	err   error
}

type submitDoneMsg struct {
	err error
}

type model struct {
	svc      *usecase.SubmitService
	flows    *repository.Client
	notifier *uiNotifier
	session  *domain.ChatSession

	state     viewState
	workflows []domain.WorkflowConfig
	cursor    int

	input      textinput.Model
	transcript viewport.Model
	spin       spinner.Model

	// Display copies of the session fields the view reads. The session itself
	// is owned by the submit goroutine while a turn is in flight, so the view
	// must never touch it directly.
	title          string
	workflowLabel  string
	attachmentName string

	processing bool
	notice     string
	width      int
	height     int
	quitting   bool
}

func newModel(svc *usecase.SubmitService, flows *repository.Client, notifier *uiNotifier, userID string) model {
	input := textinput.New()
	input.Placeholder = "Select a workflow to start chatting"
	input.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Points

	m := model{
		svc:        svc,
		flows:      flows,
		notifier:   notifier,
		session:    domain.NewChatSession(userID),
		state:      viewPickWorkflow,
		input:      input,
		transcript: viewport.New(0, 0),
		spin:       sp,
	}
	m.syncSessionView()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.loadWorkflowsCmd())
}

func (m model) loadWorkflowsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		flows, err := m.flows.ListWorkflows(ctx)
		return workflowsLoadedMsg{flows: flows, err: err}
	}
}

// submitCmd runs one turn. The compose surface stays disabled until the
// returned message arrives, so only one submission is ever in flight. Between
// dispatch and submitDoneMsg the goroutine below is the sole owner of the
// ChatSession; Update and View read only the model's display copies.
func (m model) submitCmd(text string, att *domain.Attachment) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, err := m.svc.Submit(ctx, m.session, usecase.SubmitInput{Text: text, Attachment: att})
		return submitDoneMsg{err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Width = msg.Width
		m.transcript.Height = msg.Height - 5
		m.input.Width = msg.Width - 4
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case workflowsLoadedMsg:
		if msg.err != nil {
			m.notice = "failed to load workflows: " + msg.err.Error()
			return m, nil
		}
		m.workflows = msg.flows
		return m, nil

	case submitDoneMsg:
		m.processing = false
		if notice, signedOut := m.notifier.take(); signedOut {
			m.notice = "session expired, signed out"
			m.quitting = true
			return m, tea.Quit
		} else if notice != "" {
			m.notice = notice
		} else if msg.err != nil {
			var uerr *usecase.Error
			if errors.As(msg.err, &uerr) {
				m.notice = uerr.UserMessage()
			} else {
				m.notice = msg.err.Error()
			}
		}
		// Message delivery hands session ownership back to this goroutine.
		m.syncSessionView()
		m.refreshTranscript()
		m.input.Placeholder = "Type your message..."
		m.input.Focus()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		if m.state == viewChat {
			// The submit goroutine owns the session while a turn runs.
			if m.processing {
				return m, nil
			}
			m.state = viewPickWorkflow
			m.session.SelectWorkflow(nil)
			m.syncSessionView()
			m.input.Blur()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case "ctrl+n":
		if m.state == viewChat && !m.processing {
			m.session.Reset()
			m.syncSessionView()
			m.refreshTranscript()
		}
		return m, nil
	}

	if m.state == viewPickWorkflow {
		return m.handlePickerKey(msg)
	}
	return m.handleChatKey(msg)
}

func (m model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.workflows)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.workflows) == 0 {
			return m, nil
		}
		wf := m.workflows[m.cursor]
		// Switching workflows always starts a fresh conversation context.
		m.session.SelectWorkflow(&wf)
		m.syncSessionView()
		m.state = viewChat
		m.notice = ""
		m.refreshTranscript()
		m.input.Placeholder = "Type your message..."
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		if m.processing {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" && m.session.Attachment == nil {
			return m, nil
		}
		if strings.HasPrefix(text, "/attach ") {
			return m.attachFile(strings.TrimSpace(strings.TrimPrefix(text, "/attach "))), nil
		}

		att := m.session.Attachment
		m.input.SetValue("")
		m.input.Placeholder = "Processing your request..."
		m.input.Blur()
		m.processing = true
		m.notice = ""
		return m, tea.Batch(m.submitCmd(text, att), m.spin.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) attachFile(path string) model {
	f, err := os.Open(path)
	if err != nil {
		m.notice = "cannot open file: " + err.Error()
		return m
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		m.notice = "cannot stat file: " + err.Error()
		return m
	}
	m.session.Attachment = &domain.Attachment{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Content: f,
	}
	m.syncSessionView()
	m.input.SetValue("")
	m.notice = "attached " + filepath.Base(path)
	return m
}

// syncSessionView copies the session fields the view renders. Called only
// while no submission is in flight, so the reads are safe.
func (m *model) syncSessionView() {
	m.title = m.session.Title
	m.workflowLabel = ""
	if m.session.Workflow != nil {
		m.workflowLabel = m.session.Workflow.Label()
	}
	m.attachmentName = ""
	if m.session.Attachment != nil {
		m.attachmentName = m.session.Attachment.Name
	}
}

func (m *model) refreshTranscript() {
	var b strings.Builder
	for _, msg := range m.session.Messages {
		label := "You"
		style := userStyle
		if msg.Sender == domain.RoleAssistant {
			label = "Assistant"
			style = assistantStyle
		} else if msg.IsFollowUp {
			label = "You (follow-up)"
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%s · %s", label, msg.Timestamp.Format("15:04:05"))))
		b.WriteString("\n")
		b.WriteString(style.Render(plainText(msg.Text)))
		if msg.DocumentURL != "" {
			b.WriteString("\n")
			b.WriteString(labelStyle.Render("attachment: " + msg.DocumentURL))
		}
		b.WriteString("\n\n")
	}
	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

// plainText strips stored markup for terminal display.
func plainText(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

func (m model) View() string {
	if m.quitting {
		if m.notice != "" {
			return m.notice + "\n"
		}
		return ""
	}
	if m.state == viewPickWorkflow {
		return m.pickerView()
	}
	return m.chatView()
}

func (m model) pickerView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select a Workflow to Start"))
	b.WriteString("\n\n")
	if len(m.workflows) == 0 {
		b.WriteString(labelStyle.Render(m.spin.View() + " loading workflows..."))
	}
	for i, wf := range m.workflows {
		line := "  " + wf.Label()
		if i == m.cursor {
			line = selectedStyle.Render("> " + wf.Label())
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(noticeStyle.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("enter select · esc quit"))
	return b.String()
}

func (m model) chatView() string {
	header := titleStyle.Render(m.title)
	if m.workflowLabel != "" {
		header += labelStyle.Render("  using " + m.workflowLabel)
	}

	inputView := m.input.View()
	if m.processing {
		inputView = m.spin.View() + " processing... "
	}

	status := labelStyle.Render("enter send · /attach <path> · ctrl+n new chat · esc workflows")
	if m.attachmentName != "" {
		status = labelStyle.Render("pending attachment: " + m.attachmentName)
	}
	if m.notice != "" {
		status = noticeStyle.Render(m.notice)
	}

	return strings.Join([]string{header, m.transcript.View(), inputView, status}, "\n")
}

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	chatTable := mustEnv("CHAT_TABLE")
	imagesBucket := mustEnv("IMAGES_BUCKET")
	documentsBucket := mustEnv("DOCUMENTS_BUCKET")
	authURL := mustEnv("AUTH_URL")
	authRefreshToken := mustEnv("AUTH_REFRESH_TOKEN")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), chatTable)
	if err != nil {
		slog.Error("failed to create repository", "err", err)
		os.Exit(1)
	}
	uploads, err := objectstore.New(
		awss3.NewFromConfig(cfg),
		os.Getenv("AWS_REGION"),
		imagesBucket,
		documentsBucket,
		objectstore.WithPublicBaseURL(os.Getenv("PUBLIC_BASE_URL")),
	)
	if err != nil {
		slog.Error("failed to create object store", "err", err)
		os.Exit(1)
	}
	creds, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create credential resolver", "err", err)
		os.Exit(1)
	}
	sessions, err := auth.NewClient(authURL, os.Getenv("AUTH_API_KEY"), authRefreshToken)
	if err != nil {
		slog.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}

	sess, err := sessions.GetSession(ctx)
	if err != nil {
		slog.Error("failed to establish session", "err", err)
		os.Exit(1)
	}

	notifier := &uiNotifier{}
	svc, err := usecase.NewSubmitService(
		sessions, store, uploads, workergate.NewClient(), creds,
		render.Render, notifier, slog.Default(),
	)
	if err != nil {
		slog.Error("failed to create submit service", "err", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(svc, store, notifier, sess.UserID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("tui exited with error", "err", err)
		os.Exit(1)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
