package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"time"

	"vpe/order"
)

// ErrNetworkUnreachable is returned when a camera does not accept TCP connections.
var ErrNetworkUnreachable = errors.New("camera unreachable")

// Prober checks network reachability of a camera.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) error
}

// TCPProber probes reachability with a plain TCP connect.
type TCPProber struct{}

// Probe dials address and closes the connection immediately.
func (TCPProber) Probe(ctx context.Context, address string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetworkUnreachable, address, err)
	}
	conn.Close()
	return nil
}

// CameraAddress returns the host:port used for reachability probes.
func CameraAddress(cam order.Camera) string {
	return net.JoinHostPort(cam.Address, strconv.Itoa(cam.Port))
}

// CameraURL builds the RTSP URL of a camera with its credentials.
func CameraURL(cam order.Camera) string {
	u := url.URL{
		Scheme: "rtsp",
		Host:   CameraAddress(cam),
		Path:   cam.Path,
	}
	if cam.Username != "" || cam.Password != "" {
		u.User = url.UserPassword(cam.Username, cam.Password)
	}
	return u.String()
}

// RetryPolicy bounds how long the capture loop keeps waiting for an unreachable camera.
// Zero values mean no bound; the force-close deadline always applies.
type RetryPolicy struct {
	// MaxAttempts is the number of consecutive failed attempts tolerated.
	MaxAttempts int
	// MaxOverrun is how far past the requested duration the loop may keep running.
	MaxOverrun time.Duration
}

// DefaultRetryPolicy retries until the force-close deadline.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// Allow reports whether another attempt may be made after failures consecutive failures
// and overrun time spent beyond the requested duration.
func (p RetryPolicy) Allow(failures int, overrun time.Duration) bool {
	if p.MaxAttempts > 0 && failures >= p.MaxAttempts {
		return false
	}
	if p.MaxOverrun > 0 && overrun > p.MaxOverrun {
		return false
	}
	return true
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		log.Printf("[network] wait interrupted: %v", ctx.Err())
		return ctx.Err()
	}
}
