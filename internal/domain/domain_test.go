package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachment_Ext(t *testing.T) {
	require.Equal(t, "pdf", Attachment{Name: "Report.PDF"}.Ext())
	require.Equal(t, "png", Attachment{Name: "photo.png"}.Ext())
	require.Equal(t, "gz", Attachment{Name: "archive.tar.gz"}.Ext())
	require.Equal(t, "", Attachment{Name: "README"}.Ext())
}

func TestAttachment_Category(t *testing.T) {
	for _, name := range []string{"a.png", "b.jpg", "c.JPEG", "d.gif"} {
		require.Equal(t, CategoryImage, Attachment{Name: name}.Category(), name)
	}
	for _, name := range []string{"a.pdf", "b.docx", "c.csv", "noext", "e.svg"} {
		require.Equal(t, CategoryDocument, Attachment{Name: name}.Category(), name)
	}
}

func TestWorkflowConfig_Allows(t *testing.T) {
	wf := WorkflowConfig{SupportsDocuments: true}
	require.True(t, wf.Allows(CategoryDocument))
	require.False(t, wf.Allows(CategoryImage))

	wf = WorkflowConfig{SupportsImages: true}
	require.True(t, wf.Allows(CategoryImage))
	require.False(t, wf.Allows(CategoryDocument))

	require.False(t, WorkflowConfig{}.Allows("archive"))
}

func TestWorkflowConfig_Label(t *testing.T) {
	require.Equal(t, "Report Bot", WorkflowConfig{Name: "report-bot", DisplayName: "Report Bot"}.Label())
	require.Equal(t, "report-bot", WorkflowConfig{Name: "report-bot"}.Label())
}

func TestWorkflowConfig_EndpointURL(t *testing.T) {
	require.Equal(t, DefaultWorkerURL, WorkflowConfig{}.EndpointURL())
	require.Equal(t, "https://w.example.com", WorkflowConfig{APIURL: "https://w.example.com"}.EndpointURL())
}

func TestChatSession_Reset(t *testing.T) {
	cs := NewChatSession("u-1")
	cs.ConversationID = "conv-1"
	cs.Title = "Quarterly report"
	cs.Messages = []DisplayMessage{{ID: "m-1"}}
	cs.PreviousAnswer = "<p>earlier</p>"
	cs.Attachment = &Attachment{Name: "r.pdf"}
	cs.UploadProgress = 40

	cs.Reset()

	require.Empty(t, cs.ConversationID)
	require.Equal(t, DefaultChatTitle, cs.Title)
	require.Empty(t, cs.Messages)
	require.Empty(t, cs.PreviousAnswer)
	require.Nil(t, cs.Attachment)
	require.Zero(t, cs.UploadProgress)
	require.Equal(t, "u-1", cs.UserID)
}

func TestChatSession_SelectWorkflowResetsContext(t *testing.T) {
	cs := NewChatSession("u-1")
	cs.Workflow = &WorkflowConfig{ID: "wf-1"}
	cs.ConversationID = "conv-1"
	cs.PreviousAnswer = "<p>earlier</p>"

	next := &WorkflowConfig{ID: "wf-2"}
	cs.SelectWorkflow(next)

	require.Same(t, next, cs.Workflow)
	require.Empty(t, cs.ConversationID)
	require.Empty(t, cs.PreviousAnswer)
}
