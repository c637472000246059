package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/storage/models"
	"github.com/researchagent/backend/pkg/logger"
)

type sessionLock struct {
	mu sync.Mutex
}

var convLocksMu sync.Mutex

// sessionMutex returns the lock guarding save_turn for one session_id, creating
// it on first use. Conversation.save_turn has no row-level equivalent to lock
// in sqlite, so turn numbering is serialized per session through this mutex
// rather than a transactional SELECT ... FOR UPDATE.
func (c *Client) sessionMutex(sessionID string) *sessionLock {
	convLocksMu.Lock()
	defer convLocksMu.Unlock()

	l, ok := c.convMu[sessionID]
	if !ok {
		l = &sessionLock{}
		c.convMu[sessionID] = l
	}
	return l
}

func (c *Client) GetOrCreateConversation(sessionID string) (*models.Conversation, error) {
	conv, err := c.getConversationBySessionID(c.db, sessionID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now()
	conv = &models.Conversation{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = c.db.Exec(
		`INSERT INTO conversations (id, session_id, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.SessionID, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), "{}",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.Debug("conversation created", zap.String("session_id", sessionID))
	return conv, nil
}

func (c *Client) getConversationBySessionID(q querier, sessionID string) (*models.Conversation, error) {
	row := q.QueryRow(`SELECT id, session_id, created_at, updated_at, metadata FROM conversations WHERE session_id = ?`, sessionID)

	var conv models.Conversation
	var createdAt, updatedAt int64
	var metadataJSON string

	err := row.Scan(&conv.ID, &conv.SessionID, &createdAt, &updatedAt, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	json.Unmarshal([]byte(metadataJSON), &conv.Metadata)

	return &conv, nil
}

func (c *Client) GetHistory(sessionID string, limit int) ([]models.ConversationTurn, error) {
	conv, err := c.getConversationBySessionID(c.db, sessionID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	rows, err := c.db.Query(
		`SELECT id, conversation_ref, turn_number, user_query, agent_response, provider, model,
			guardrail_score, retrieval_attempts, rewritten_query, sources, reasoning_steps, created_at
		 FROM conversation_turns WHERE conversation_ref = ? ORDER BY turn_number DESC LIMIT ?`,
		conv.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	logger.Debug("history loaded", zap.String("session_id", sessionID), zap.Int("turns", len(turns)))
	return turns, nil
}

type TurnData struct {
	UserQuery         string
	AgentResponse     string
	Provider          string
	Model             string
	GuardrailScore    *int
	RetrievalAttempts int
	RewrittenQuery    string
	Sources           []models.Source
	ReasoningSteps    []string
}

// SaveTurn assigns the next dense turn_number and writes the turn, with the
// insert retried on conflict in case two requests for the same session raced
// past the session mutex window (sqlite busy/locked errors under WAL).
func (c *Client) SaveTurn(sessionID string, turn TurnData) (*models.ConversationTurn, error) {
	lock := c.sessionMutex(sessionID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		ct, err := c.saveTurnOnce(sessionID, turn)
		if err == nil {
			return ct, nil
		}
		lastErr = err
		logger.Warn("turn save retry", zap.String("session_id", sessionID), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, fmt.Errorf("failed to save turn after retries: %w", lastErr)
}

func (c *Client) saveTurnOnce(sessionID string, turn TurnData) (*models.ConversationTurn, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := c.getConversationBySessionID(tx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if conv == nil {
		conv = &models.Conversation{ID: uuid.New().String(), SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
		_, err = tx.Exec(
			`INSERT INTO conversations (id, session_id, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?)`,
			conv.ID, conv.SessionID, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), "{}",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	var maxTurn sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(turn_number) FROM conversation_turns WHERE conversation_ref = ?`, conv.ID).Scan(&maxTurn); err != nil {
		return nil, fmt.Errorf("failed to read max turn: %w", err)
	}
	turnNumber := 0
	if maxTurn.Valid {
		turnNumber = int(maxTurn.Int64) + 1
	}

	sourcesJSON, _ := json.Marshal(turn.Sources)
	stepsJSON, _ := json.Marshal(turn.ReasoningSteps)

	ct := &models.ConversationTurn{
		ID:                uuid.New().String(),
		ConversationRef:   conv.ID,
		TurnNumber:        turnNumber,
		UserQuery:         turn.UserQuery,
		AgentResponse:     turn.AgentResponse,
		Provider:          turn.Provider,
		Model:             turn.Model,
		GuardrailScore:    turn.GuardrailScore,
		RetrievalAttempts: turn.RetrievalAttempts,
		RewrittenQuery:    turn.RewrittenQuery,
		Sources:           turn.Sources,
		ReasoningSteps:    turn.ReasoningSteps,
		CreatedAt:         now,
	}

	_, err = tx.Exec(
		`INSERT INTO conversation_turns (id, conversation_ref, turn_number, user_query, agent_response, provider, model,
			guardrail_score, retrieval_attempts, rewritten_query, sources, reasoning_steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ct.ID, ct.ConversationRef, ct.TurnNumber, ct.UserQuery, ct.AgentResponse, ct.Provider, ct.Model,
		ct.GuardrailScore, ct.RetrievalAttempts, ct.RewrittenQuery, string(sourcesJSON), string(stepsJSON), ct.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert turn: %w", err)
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now.Unix(), conv.ID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	logger.Debug("turn saved", zap.String("session_id", sessionID), zap.Int("turn_number", turnNumber))
	return ct, nil
}

func (c *Client) ListSessions(offset, limit int) ([]models.ConversationSummary, int, error) {
	var total int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := c.db.Query(
		`SELECT c.session_id, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM conversation_turns t WHERE t.conversation_ref = c.id),
			(SELECT user_query FROM conversation_turns t WHERE t.conversation_ref = c.id ORDER BY turn_number DESC LIMIT 1)
		 FROM conversations c ORDER BY c.updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var createdAt, updatedAt int64
		var lastQuery sql.NullString

		if err := rows.Scan(&s.SessionID, &createdAt, &updatedAt, &s.TurnCount, &lastQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		s.LastQuery = lastQuery.String

		summaries = append(summaries, s)
	}

	return summaries, total, nil
}

func (c *Client) GetConversationWithTurns(sessionID string) (*models.Conversation, []models.ConversationTurn, error) {
	conv, err := c.getConversationBySessionID(c.db, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, nil
	}

	turns, err := c.GetHistory(sessionID, 1<<30)
	if err != nil {
		return nil, nil, err
	}

	return conv, turns, nil
}

func (c *Client) DeleteConversation(sessionID string) (int, error) {
	conv, err := c.getConversationBySessionID(c.db, sessionID)
	if err != nil {
		return 0, err
	}
	if conv == nil {
		return 0, nil
	}

	var turnsDeleted int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM conversation_turns WHERE conversation_ref = ?`, conv.ID).Scan(&turnsDeleted); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}

	if _, err := c.db.Exec(`DELETE FROM conversations WHERE id = ?`, conv.ID); err != nil {
		return 0, fmt.Errorf("failed to delete conversation: %w", err)
	}

	logger.Info("conversation deleted", zap.String("session_id", sessionID), zap.Int("turns", turnsDeleted))
	return turnsDeleted, nil
}

type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func scanTurn(rows *sql.Rows) (*models.ConversationTurn, error) {
	var t models.ConversationTurn
	var sourcesJSON, stepsJSON sql.NullString
	var createdAt int64
	var rewritten sql.NullString

	if err := rows.Scan(&t.ID, &t.ConversationRef, &t.TurnNumber, &t.UserQuery, &t.AgentResponse, &t.Provider, &t.Model,
		&t.GuardrailScore, &t.RetrievalAttempts, &rewritten, &sourcesJSON, &stepsJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan turn: %w", err)
	}

	t.RewrittenQuery = rewritten.String
	if sourcesJSON.Valid {
		json.Unmarshal([]byte(sourcesJSON.String), &t.Sources)
	}
	if stepsJSON.Valid {
		json.Unmarshal([]byte(stepsJSON.String), &t.ReasoningSteps)
	}
	t.CreatedAt = time.Unix(createdAt, 0)

	return &t, nil
}
