package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const archiveTimeout = 3 * time.Second

// PayloadArchive keeps raw inbound provider payloads. *storage.Archive satisfies it.
type PayloadArchive interface {
	Store(ctx context.Context, source string, body []byte, metadata map[string]string) (string, error)
}

// archivePayload stores body when an archive is configured. Failures are
// logged and never fail the delivery.
func archivePayload(ctx context.Context, archive PayloadArchive, source string, body []byte, metadata map[string]string) {
	if archive == nil || len(body) == 0 {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	uri, err := archive.Store(storeCtx, source, body, metadata)
	logger := requestctx.Logger(ctx).With(zap.String("source", source))
	if err != nil {
		logger.Warn("webhook payload archive failed", zap.Error(err))
		return
	}
	logger.Debug("webhook payload archived", zap.String("uri", uri))
}
