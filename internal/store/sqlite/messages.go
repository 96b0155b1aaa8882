package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qbloq/agentico/internal/model"
)

type MessageStore struct{ db *sql.DB }

func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{db: db} }

func (s *MessageStore) GetRecent(ctx context.Context, tenantID, sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, type, content, media_url, transcription, image_analysis,
		        template_name, platform_msg_id, delivery_status, reply_to_message_id, created_at
		 FROM (
		   SELECT * FROM messages WHERE tenant_id=? AND session_id=?
		   ORDER BY created_at DESC LIMIT ?
		 ) recent ORDER BY created_at ASC`,
		tenantID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m                model.Message
			direction, mtype string
			replyTo          sql.NullString
		)
		if err := rows.Scan(&m.ID, &direction, &mtype, &m.Content, &m.MediaURL, &m.Transcription,
			&m.ImageAnalysis, &m.TemplateName, &m.PlatformMsgID, &m.DeliveryStatus,
			&replyTo, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.TenantID, m.SessionID = tenantID, sessionID
		m.Direction, m.Type = model.MessageDirection(direction), model.MessageType(mtype)
		m.ReplyToMessageID = replyTo.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MessageStore) Save(ctx context.Context, tenantID, sessionID string, msg *model.Message) error {
	if msg.Direction == model.DirectionOutbound && msg.Type == model.MessageTemplate && msg.TemplateName == "" {
		return fmt.Errorf("save message: template message missing template name")
	}
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.DeliveryStatus == "" && msg.Direction == model.DirectionOutbound {
		msg.DeliveryStatus = model.DeliveryPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, session_id, direction, type, content, media_url,
		        transcription, image_analysis, template_name, platform_msg_id, delivery_status,
		        reply_to_message_id, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		msg.ID, tenantID, sessionID, msg.Direction, msg.Type, msg.Content, msg.MediaURL,
		msg.Transcription, msg.ImageAnalysis, msg.TemplateName, msg.PlatformMsgID, msg.DeliveryStatus,
		nullableString(msg.ReplyToMessageID), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
