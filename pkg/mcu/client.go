// Package mcu speaks the line protocol of the thermal interface
// board. Every command is one ASCII line and every reply is one line
// back: "T?" reads the board thermocouple ("T:<celsius>"),
// "H<idx>:<duty>" sets a heater output ("ok"), "PING" checks liveness
// ("PONG"). A background goroutine polls the temperature so feature
// code reads a cache instead of blocking on the wire.
package mcu

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
	"probetherm/pkg/log"
	"probetherm/pkg/serial"
)

const (
	defaultBaud         = 115200
	defaultPollInterval = 1.0
	connectRetries      = 3
)

// Client is a connected interface board.
type Client struct {
	// mu serializes command/reply cycles; one command in flight.
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	br     *bufio.Reader
	device string

	stateMu   sync.Mutex
	lastTemp  float64
	tempErr   error
	fresh     bool
	connected bool

	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewClient wraps an already-open board connection. Callers outside
// tests normally use Dial.
func NewClient(conn io.ReadWriteCloser, device string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = time.Duration(defaultPollInterval * float64(time.Second))
	}
	return &Client{
		conn:         conn,
		br:           bufio.NewReader(conn),
		device:       device,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

// Dial opens the board named by the [mcu] section, verifies it
// answers, and starts the temperature poll loop.
func Dial(sec *config.Section) (*Client, error) {
	device, err := sec.Get("serial")
	if err != nil {
		return nil, err
	}
	baud, err := sec.GetInt("baud", defaultBaud)
	if err != nil {
		return nil, err
	}
	zero := 0.0
	pollInterval, err := sec.GetFloatWithBounds("poll_interval",
		config.FloatBounds{Above: &zero}, defaultPollInterval)
	if err != nil {
		return nil, err
	}

	var conn io.ReadWriteCloser
	if serial.IsSocketPath(device) {
		port, err := serial.OpenSocket(device, 0)
		if err != nil {
			return nil, errors.MCUConnectError(device, err)
		}
		conn = port
	} else {
		pcfg := serial.DefaultConfig()
		pcfg.Device = device
		pcfg.BaudRate = baud
		port, err := serial.Open(pcfg)
		if err != nil {
			if ports := serial.ListPorts(); len(ports) > 0 {
				err = fmt.Errorf("%w (ports present: %s)", err, strings.Join(ports, ", "))
			}
			return nil, errors.MCUConnectError(device, err)
		}
		port.Flush()
		conn = port
	}

	c := NewClient(conn, device, time.Duration(pollInterval*float64(time.Second)))
	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	log.GetLogger("mcu").WithField("device", device).Info("board connected")
	c.Start()
	return c, nil
}

// handshake pings the board until it answers. Boards that reset on
// port open may spew a banner first, so a few attempts are allowed.
func (c *Client) handshake() error {
	var lastErr error
	for i := 0; i < connectRetries; i++ {
		if lastErr = c.Ping(); lastErr == nil {
			c.setConnected(true)
			return nil
		}
	}
	return errors.MCUConnectError(c.device, lastErr)
}

// Start launches the background temperature poll loop.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.pollLoop()
}

func (c *Client) pollLoop() {
	defer c.wg.Done()
	c.pollOnce()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// pollOnce refreshes the temperature cache with one wire read.
func (c *Client) pollOnce() {
	temp, err := c.queryTemperature()

	c.stateMu.Lock()
	wasConnected := c.connected
	c.lastTemp = temp
	c.tempErr = err
	c.fresh = err == nil
	c.connected = err == nil
	c.stateMu.Unlock()

	if err != nil && wasConnected {
		log.GetLogger("mcu").WithField("device", c.device).
			WithError(err).Error("board stopped answering")
	} else if err == nil && !wasConnected {
		log.GetLogger("mcu").WithField("device", c.device).
			Info("board answering again")
	}
}

// roundTrip writes one command line and returns the board's reply
// line with the terminator stripped.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return "", errors.MCUConnectError(c.device, err)
	}
	line, err := c.br.ReadString('\n')
	if err != nil {
		if err == serial.ErrTimeout {
			return "", errors.MCUTimeoutError(cmd)
		}
		return "", errors.MCUConnectError(c.device, err)
	}
	return strings.TrimSpace(line), nil
}

// Ping checks that the board answers.
func (c *Client) Ping() error {
	reply, err := c.roundTrip("PING")
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return errors.MCUProtocolError(reply)
	}
	return nil
}

// queryTemperature reads the board thermocouple.
func (c *Client) queryTemperature() (float64, error) {
	reply, err := c.roundTrip("T?")
	if err != nil {
		return 0, err
	}
	value, ok := strings.CutPrefix(reply, "T:")
	if !ok {
		return 0, errors.MCUProtocolError(reply)
	}
	temp, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.MCUProtocolError(reply)
	}
	return temp, nil
}

// Temperature returns the cached board temperature. It satisfies the
// thermal manager's board link without touching the wire.
func (c *Client) Temperature() (float64, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.tempErr != nil {
		return 0, c.tempErr
	}
	if !c.fresh {
		return 0, errors.MCUTimeoutError("temperature poll")
	}
	return c.lastTemp, nil
}

// SetHeaterDuty writes a heater output duty cycle to the board.
func (c *Client) SetHeaterDuty(index int, duty float64) error {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	reply, err := c.roundTrip(fmt.Sprintf("H%d:%.3f", index, duty))
	if err != nil {
		return err
	}
	if reply != "ok" {
		return errors.MCUProtocolError(reply)
	}
	return nil
}

// Connected reports whether the last poll got an answer.
func (c *Client) Connected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connected
}

// Device returns the configured device path.
func (c *Client) Device() string {
	return c.device
}

// GetStatus returns the board state for the API.
func (c *Client) GetStatus(eventtime float64) map[string]interface{} {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	status := map[string]interface{}{
		"device":    c.device,
		"connected": c.connected,
	}
	if c.fresh {
		status["temperature"] = c.lastTemp
	}
	return status
}

func (c *Client) setConnected(v bool) {
	c.stateMu.Lock()
	c.connected = v
	c.stateMu.Unlock()
}

// Close stops the poll loop and closes the connection.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return c.conn.Close()
}
