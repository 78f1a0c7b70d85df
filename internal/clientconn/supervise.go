package clientconn

// Supervise runs the full per-device connection lifecycle: connect (with
// the bounded reconnect budget), then block until the connection lands in
// Error (liveness timeout, read error, or reconnect exhaustion) or done
// fires, then disconnect and repeat — mirroring the controller's per-device
// session driving its DeviceSession through Connecting/Connected/Streaming
// (C8) without owning that state machine itself.
func (c *Connection) Supervise(done <-chan struct{}) {
	errorCh := make(chan struct{}, 1)
	userOnStateChange := c.h.OnStateChange
	c.h.OnStateChange = func(from, to State) {
		if userOnStateChange != nil {
			userOnStateChange(from, to)
		}
		if to == StateError {
			select {
			case errorCh <- struct{}{}:
			default:
			}
		}
	}

	for {
		select {
		case <-done:
			c.Disconnect()
			return
		default:
		}

		if err := c.RunWithReconnect(done); err != nil {
			return // reconnect budget exhausted; terminal
		}

		select {
		case <-done:
			c.Disconnect()
			return
		case <-errorCh:
			c.Disconnect()
			// loop back into RunWithReconnect for a fresh attempt budget
		}
	}
}
