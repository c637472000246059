package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/storage/models"
	"github.com/researchagent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB

	convMu map[string]*sessionLock
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, convMu: make(map[string]*sessionLock)}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		arxiv_id TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		authors TEXT,
		abstract TEXT,
		categories TEXT,
		published_date INTEGER,
		pdf_url TEXT,
		raw_text TEXT,
		sections TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_papers_published ON papers(published_date);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		paper_ref TEXT NOT NULL,
		arxiv_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		section_name TEXT,
		page_number INTEGER,
		word_count INTEGER,
		embedding TEXT,
		lexical_index TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (paper_ref) REFERENCES papers(id) ON DELETE CASCADE,
		UNIQUE (paper_ref, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_paper ON chunks(paper_ref);
	CREATE INDEX IF NOT EXISTS idx_chunks_arxiv ON chunks(arxiv_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		session_id TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		conversation_ref TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		user_query TEXT NOT NULL,
		agent_response TEXT NOT NULL,
		provider TEXT,
		model TEXT,
		guardrail_score INTEGER,
		retrieval_attempts INTEGER DEFAULT 0,
		rewritten_query TEXT,
		sources TEXT,
		reasoning_steps TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_ref) REFERENCES conversations(id) ON DELETE CASCADE,
		UNIQUE (conversation_ref, turn_number)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_ref);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertPaper(p *models.Paper) error {
	authorsJSON, _ := json.Marshal(p.Authors)
	categoriesJSON, _ := json.Marshal(p.Categories)
	sectionsJSON, _ := json.Marshal(p.Sections)

	query := `
		INSERT INTO papers (id, arxiv_id, title, authors, abstract, categories, published_date, pdf_url, raw_text, sections, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(arxiv_id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			abstract = excluded.abstract,
			categories = excluded.categories,
			published_date = excluded.published_date,
			pdf_url = excluded.pdf_url,
			raw_text = excluded.raw_text,
			sections = excluded.sections,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query,
		p.ID, p.ArxivID, p.Title, string(authorsJSON), p.Abstract, string(categoriesJSON),
		p.PublishedDate.Unix(), p.PDFURL, p.RawText, string(sectionsJSON),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert paper: %w", err)
	}

	logger.Debug("paper upserted", zap.String("arxiv_id", p.ArxivID))
	return nil
}

func (c *Client) GetPaperByArxivID(arxivID string) (*models.Paper, error) {
	query := `SELECT id, arxiv_id, title, authors, abstract, categories, published_date, pdf_url, raw_text, sections, created_at, updated_at FROM papers WHERE arxiv_id = ?`

	return c.scanPaper(c.db.QueryRow(query, arxivID))
}

func (c *Client) scanPaper(row *sql.Row) (*models.Paper, error) {
	var p models.Paper
	var authorsJSON, categoriesJSON, sectionsJSON string
	var published, createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.ArxivID, &p.Title, &authorsJSON, &p.Abstract, &categoriesJSON,
		&published, &p.PDFURL, &p.RawText, &sectionsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	json.Unmarshal([]byte(authorsJSON), &p.Authors)
	json.Unmarshal([]byte(categoriesJSON), &p.Categories)
	json.Unmarshal([]byte(sectionsJSON), &p.Sections)
	p.PublishedDate = time.Unix(published, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

type PaperFilter struct {
	Categories []string
	ArxivIDs   []string
	From       *time.Time
	To         *time.Time
}

func (c *Client) ListPapers(filter PaperFilter, limit, offset int) ([]models.Paper, int, error) {
	where, args := buildPaperWhere(filter)

	countQuery := "SELECT COUNT(*) FROM papers" + where
	var total int
	if err := c.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count papers: %w", err)
	}

	query := "SELECT id, arxiv_id, title, authors, abstract, categories, published_date, pdf_url, raw_text, sections, created_at, updated_at FROM papers" +
		where + " ORDER BY published_date DESC LIMIT ? OFFSET ?"
	rows, err := c.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []models.Paper
	for rows.Next() {
		var p models.Paper
		var authorsJSON, categoriesJSON, sectionsJSON string
		var published, createdAt, updatedAt int64

		if err := rows.Scan(&p.ID, &p.ArxivID, &p.Title, &authorsJSON, &p.Abstract, &categoriesJSON,
			&published, &p.PDFURL, &p.RawText, &sectionsJSON, &createdAt, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan paper: %w", err)
		}

		json.Unmarshal([]byte(authorsJSON), &p.Authors)
		json.Unmarshal([]byte(categoriesJSON), &p.Categories)
		json.Unmarshal([]byte(sectionsJSON), &p.Sections)
		p.PublishedDate = time.Unix(published, 0)
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)

		papers = append(papers, p)
	}

	return papers, total, nil
}

func buildPaperWhere(filter PaperFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.ArxivIDs) > 0 {
		placeholders := ""
		for i, id := range filter.ArxivIDs {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		clauses = append(clauses, "arxiv_id IN ("+placeholders+")")
	}
	if filter.From != nil {
		clauses = append(clauses, "published_date >= ?")
		args = append(args, filter.From.Unix())
	}
	if filter.To != nil {
		clauses = append(clauses, "published_date <= ?")
		args = append(args, filter.To.Unix())
	}

	if len(clauses) == 0 {
		return "", args
	}

	where := " WHERE " + clauses[0]
	for _, cl := range clauses[1:] {
		where += " AND " + cl
	}
	return where, args
}

func (c *Client) UpsertChunk(chunk *models.Chunk) error {
	embeddingJSON, _ := json.Marshal(chunk.Embedding)
	lexicalJSON, _ := json.Marshal(chunk.LexicalIndex)

	query := `
		INSERT INTO chunks (id, paper_ref, arxiv_id, chunk_index, text, section_name, page_number, word_count, embedding, lexical_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(paper_ref, chunk_index) DO UPDATE SET
			text = excluded.text,
			section_name = excluded.section_name,
			page_number = excluded.page_number,
			word_count = excluded.word_count,
			embedding = excluded.embedding,
			lexical_index = excluded.lexical_index
	`

	_, err := c.db.Exec(query,
		chunk.ID, chunk.PaperRef, chunk.ArxivID, chunk.ChunkIndex, chunk.Text,
		chunk.SectionName, chunk.PageNumber, chunk.WordCount,
		string(embeddingJSON), string(lexicalJSON), chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	return nil
}

func (c *Client) AllChunks() ([]models.Chunk, error) {
	query := `SELECT id, paper_ref, arxiv_id, chunk_index, text, section_name, page_number, word_count, embedding, lexical_index, created_at FROM chunks`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var embeddingJSON, lexicalJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(&ch.ID, &ch.PaperRef, &ch.ArxivID, &ch.ChunkIndex, &ch.Text,
			&ch.SectionName, &ch.PageNumber, &ch.WordCount, &embeddingJSON, &lexicalJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		if embeddingJSON.Valid {
			json.Unmarshal([]byte(embeddingJSON.String), &ch.Embedding)
		}
		if lexicalJSON.Valid {
			json.Unmarshal([]byte(lexicalJSON.String), &ch.LexicalIndex)
		}
		ch.CreatedAt = time.Unix(createdAt, 0)

		chunks = append(chunks, ch)
	}

	return chunks, nil
}
