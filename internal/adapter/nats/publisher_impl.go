package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect dials the server and keeps reconnecting for the life of the process.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("listing-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// ChangePublisherImpl publishes each change record as JSON on
// <prefix>.<change_type>.
type ChangePublisherImpl struct {
	conn   Conn
	prefix string
}

func NewChangePublisher(conn Conn, subjectPrefix string) *ChangePublisherImpl {
	return &ChangePublisherImpl{conn: conn, prefix: subjectPrefix}
}

func (p *ChangePublisherImpl) Publish(ctx context.Context, records []entity.ChangeRecord) error {
	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode change %s: %w", rec.ChangeID, err))
			continue
		}
		if err := p.conn.Publish(p.Subject(rec.ChangeType), data); err != nil {
			errs = append(errs, fmt.Errorf("publish change %s: %w", rec.ChangeID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *ChangePublisherImpl) Subject(t entity.ChangeType) string {
	return p.prefix + "." + string(t)
}
