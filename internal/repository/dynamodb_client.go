// Package repository persists conversations, messages and workflow logs in a
// single DynamoDB table.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"workflow-chat/internal/domain"
)

const (
	skMeta      = "META#"
	skPrefixMsg = "MSG#"
	skPrefixLog = "LOG#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store defines the persistence operations consumed by the submission
// pipeline.
type Store interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	InsertMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	AppendWorkflowLog(ctx context.Context, entry domain.WorkflowLogEntry) error
	GetWorkflow(ctx context.Context, id string) (domain.WorkflowConfig, error)
}

// Client wraps a DynamoDB table for chat state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// wfPK returns the partition key for a workflow.
func wfPK(workflowID string) string {
	return "WF#" + workflowID
}

// msgSK returns the message sort key. The timestamp prefix makes plain query
// order creation-time ascending; the id suffix keeps same-instant writes
// distinct.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

func logSK(ts time.Time) string {
	return skPrefixLog + ts.UTC().Format(time.RFC3339Nano) + "#" + uuid.NewString()
}

// CreateConversation writes the conversation metadata record. Fails when the
// conversation already exists; this core never recreates or mutates one.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("repository: CreateConversation: id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
			"SK":             &types.AttributeValueMemberS{Value: skMeta},
			"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
			"title":          &types.AttributeValueMemberS{Value: conv.Title},
			"workflowId":     &types.AttributeValueMemberS{Value: conv.WorkflowID},
			"createdBy":      &types.AttributeValueMemberS{Value: conv.CreatedBy},
			"createdAt":      &types.AttributeValueMemberS{Value: conv.CreatedAt.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// GetConversation reads the conversation metadata record.
func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: conversation %q not found", id)
	}

	title, _ := strAttr(out.Item, "title")
	workflowID, _ := strAttr(out.Item, "workflowId")
	createdBy, _ := strAttr(out.Item, "createdBy")
	createdAt, _ := timeAttr(out.Item, "createdAt")

	return domain.Conversation{
		ID:         id,
		Title:      title,
		WorkflowID: workflowID,
		CreatedBy:  createdBy,
		CreatedAt:  createdAt,
	}, nil
}

// InsertMessage appends a message row. Rows are never updated or deleted by
// this core.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" {
		return errors.New("repository: InsertMessage: conversation id is required")
	}
	if msg.ID == "" {
		return errors.New("repository: InsertMessage: message id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
			"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
			"messageId":      &types.AttributeValueMemberS{Value: msg.ID},
			"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
			"sender":         &types.AttributeValueMemberS{Value: string(msg.Sender)},
			"text":           &types.AttributeValueMemberS{Value: msg.Text},
			"documentUrl":    &types.AttributeValueMemberS{Value: msg.DocumentURL},
			"createdAt":      &types.AttributeValueMemberS{Value: msg.CreatedAt.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

// ListMessages returns all messages of a conversation in creation-time
// ascending order. The sort key encodes the timestamp, so the query order is
// the display order and callers never re-sort.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AppendWorkflowLog writes an operational log entry. Append-only; the
// submission pipeline never reads these back.
func (c *Client) AppendWorkflowLog(ctx context.Context, entry domain.WorkflowLogEntry) error {
	if entry.WorkflowID == "" {
		return errors.New("repository: AppendWorkflowLog: workflow id is required")
	}

	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	details := "{}"
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("repository: AppendWorkflowLog marshal details: %w", err)
		}
		details = string(raw)
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: wfPK(entry.WorkflowID)},
			"SK":         &types.AttributeValueMemberS{Value: logSK(ts)},
			"workflowId": &types.AttributeValueMemberS{Value: entry.WorkflowID},
			"level":      &types.AttributeValueMemberS{Value: string(entry.Level)},
			"message":    &types.AttributeValueMemberS{Value: entry.Message},
			"details":    &types.AttributeValueMemberS{Value: details},
			"createdAt":  &types.AttributeValueMemberS{Value: ts.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendWorkflowLog: %w", err)
	}
	return nil
}

// GetWorkflow reads a workflow configuration record.
func (c *Client) GetWorkflow(ctx context.Context, id string) (domain.WorkflowConfig, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: wfPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return domain.WorkflowConfig{}, fmt.Errorf("repository: GetWorkflow: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.WorkflowConfig{}, fmt.Errorf("repository: GetWorkflow: workflow %q not found", id)
	}
	return itemToWorkflow(id, out.Item), nil
}

// ListWorkflows scans for all workflow configuration records. Used by the
// chat surface's workflow picker; the admin CRUD lives elsewhere.
func (c *Client) ListWorkflows(ctx context.Context) ([]domain.WorkflowConfig, error) {
	out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(c.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :meta"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: "WF#"},
			":meta":   &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListWorkflows: %w", err)
	}

	flows := make([]domain.WorkflowConfig, 0, len(out.Items))
	for _, item := range out.Items {
		pk, err := strAttr(item, "PK")
		if err != nil {
			return nil, fmt.Errorf("repository: ListWorkflows: %w", err)
		}
		flows = append(flows, itemToWorkflow(strings.TrimPrefix(pk, "WF#"), item))
	}
	return flows, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	documentURL, _ := strAttr(item, "documentUrl") // allow empty
	createdAt, _ := timeAttr(item, "createdAt")

	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         domain.Role(sender),
		Text:           text,
		DocumentURL:    documentURL,
		CreatedAt:      createdAt,
	}, nil
}

func itemToWorkflow(id string, item map[string]types.AttributeValue) domain.WorkflowConfig {
	name, _ := strAttr(item, "name")
	displayName, _ := strAttr(item, "displayName")
	workerID, _ := strAttr(item, "workerId")
	credentialRef, _ := strAttr(item, "credentialRef")
	apiURL, _ := strAttr(item, "apiUrl")

	return domain.WorkflowConfig{
		ID:                id,
		Name:              name,
		DisplayName:       displayName,
		WorkerID:          workerID,
		CredentialRef:     credentialRef,
		APIURL:            apiURL,
		SupportsDocuments: boolAttr(item, "supportsDocuments"),
		SupportsImages:    boolAttr(item, "supportsImages"),
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	v, ok := item[key]
	if !ok {
		return false
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false
	}
	return b.Value
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
