package pigpio

// Output adapts a daemon connection to the relay controller's driver
// interface.
type Output struct {
	conn *Conn
}

func NewOutput(conn *Conn, pins []int) (*Output, error) {
	for _, pin := range pins {
		if err := conn.SetOutput(pin); err != nil {
			return nil, err
		}
		// Relays start released.
		if err := conn.Write(pin, false); err != nil {
			return nil, err
		}
	}
	return &Output{conn: conn}, nil
}

func (o *Output) Drive(pin int, active bool) error {
	return o.conn.Write(pin, active)
}
