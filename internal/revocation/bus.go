package revocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/stream"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

// GroupFor returns the consumer group of one consumer. Every node, and the
// root, progresses through the bus independently.
func GroupFor(consumerID string) string { return "revocations:" + consumerID }

// Bus appends signed trust statements to the revocation stream.
type Bus struct {
	stream stream.Stream
	name   string
	logger *zap.Logger
}

// NewBus creates a bus over the named stream.
func NewBus(s stream.Stream, name string, logger *zap.Logger) *Bus {
	return &Bus{stream: s, name: name, logger: logger}
}

// Name returns the stream name.
func (b *Bus) Name() string { return b.name }

// Publish appends rev and returns its message ID.
func (b *Bus) Publish(ctx context.Context, rev trust.Revocation) (string, error) {
	fields, err := EncodeRevocation(rev)
	if err != nil {
		return "", err
	}
	id, err := b.stream.Append(ctx, b.name, fields)
	if err != nil {
		return "", fmt.Errorf("publish revocation of %s: %w", rev.RevokedUUID, err)
	}
	b.logger.Info("Published revocation",
		zap.String("id", id), zap.String("subject", rev.RevokedUUID), zap.Stringer("severity", rev.Severity))
	return id, nil
}

// PublishReinstatement appends ri and returns its message ID.
func (b *Bus) PublishReinstatement(ctx context.Context, ri trust.Reinstatement) (string, error) {
	id, err := b.stream.Append(ctx, b.name, EncodeReinstatement(ri))
	if err != nil {
		return "", fmt.Errorf("publish reinstatement of %s: %w", ri.SubjectUUID, err)
	}
	b.logger.Info("Published reinstatement", zap.String("id", id), zap.String("subject", ri.SubjectUUID))
	return id, nil
}

// PublishEnrollment appends en and returns its message ID.
func (b *Bus) PublishEnrollment(ctx context.Context, en trust.Enrollment) (string, error) {
	id, err := b.stream.Append(ctx, b.name, EncodeEnrollment(en))
	if err != nil {
		return "", fmt.Errorf("publish enrollment of %s: %w", en.UUID, err)
	}
	b.logger.Info("Published enrollment", zap.String("id", id), zap.String("uuid", en.UUID))
	return id, nil
}

// PublishCertificate appends cert and returns its message ID.
func (b *Bus) PublishCertificate(ctx context.Context, cert identity.Certificate) (string, error) {
	id, err := b.stream.Append(ctx, b.name, EncodeCertificate(cert))
	if err != nil {
		return "", fmt.Errorf("publish certificate of %s: %w", cert.SubjectUUID, err)
	}
	b.logger.Info("Published certificate",
		zap.String("id", id), zap.String("subject", cert.SubjectUUID), zap.String("issuer", cert.IssuerUUID))
	return id, nil
}
