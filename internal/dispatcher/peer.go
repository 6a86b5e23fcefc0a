package dispatcher

import (
	"context"

	"google.golang.org/grpc/peer"
)

// peerFromContext returns the calling peer's network address, used as the
// rate limiter's bucket key.
func peerFromContext(ctx context.Context) (string, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "", false
	}
	return p.Addr.String(), true
}
