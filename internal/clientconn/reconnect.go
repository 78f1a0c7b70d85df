package clientconn

import "time"

// RunWithReconnect drives Connect, retrying until one of: Connect succeeds
// (it returns nil as soon as the connection is up, without waiting for it
// to end), the caller cancels via done, or MaxReconnectAttempts consecutive
// failures exhaust the budget (§4.7,
// §8.1's "client reconnect attempts <= max_reconnect_attempts between any
// two successful Connected transitions"). Unlike the teacher's exponential
// backoff (internal/httputil/retry.go, internal/websocket/client.go), the
// delay between attempts here is fixed, per spec §4.7.
func (c *Connection) RunWithReconnect(done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}

		err := c.Connect()
		if err == nil {
			c.reconnectAttempts = 0
			return nil
		}

		c.mu.Lock()
		c.reconnectAttempts++
		attempts := c.reconnectAttempts
		c.mu.Unlock()

		if attempts >= c.cfg.MaxReconnectAttempts {
			c.setState(StateError)
			if c.h.OnTerminalError != nil {
				c.h.OnTerminalError(ErrReconnectExhausted)
			}
			return ErrReconnectExhausted
		}

		select {
		case <-done:
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}
