package domain

import "time"

// DefaultChatTitle is shown before the first message names the conversation.
const DefaultChatTitle = "New Chat"

// DisplayMessage is a chat bubble on the visible transcript. User bubbles are
// appended optimistically with a client-generated id.
type DisplayMessage struct {
	ID          string
	Sender      Role
	Text        string
	DocumentURL string
	Timestamp   time.Time
	IsFollowUp  bool
}

// ChatSession holds the mutable per-chat state the submission pipeline reads
// and writes: the active workflow, the active conversation, the transcript and
// the previous assistant answer that is re-sent on follow-up turns.
//
// A ChatSession is not safe for concurrent use. The chat surface guarantees at
// most one in-flight submission per session.
type ChatSession struct {
	UserID         string
	Workflow       *WorkflowConfig
	ConversationID string
	Title          string
	Messages       []DisplayMessage
	PreviousAnswer string
	Attachment     *Attachment
	UploadProgress float64
	Processing     bool
}

// NewChatSession returns an empty session for the given user.
func NewChatSession(userID string) *ChatSession {
	return &ChatSession{UserID: userID, Title: DefaultChatTitle}
}

// Reset clears the conversation context: title, transcript, previous-answer
// memory and any pending attachment. Called on new chat and workflow switch.
func (s *ChatSession) Reset() {
	s.ConversationID = ""
	s.Title = DefaultChatTitle
	s.Messages = nil
	s.PreviousAnswer = ""
	s.Attachment = nil
	s.UploadProgress = 0
}

// SelectWorkflow makes the workflow active and resets the conversation
// context. Selecting the same workflow again still starts a fresh chat.
func (s *ChatSession) SelectWorkflow(w *WorkflowConfig) {
	s.Reset()
	s.Workflow = w
}

// Append adds a bubble to the visible transcript.
func (s *ChatSession) Append(m DisplayMessage) {
	s.Messages = append(s.Messages, m)
}
