package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "traitpair/internal/errors"
)

const (
	defaultQueueSize   = 256
	defaultDialTimeout = 5 * time.Second
	writeTimeout       = 2 * time.Second
	transferTimeout    = 60 * time.Second
)

// op is one exchange with the bridge, run on the writer goroutine. A nil
// conn means the link is down.
type op func(conn net.Conn, rd *bufio.Reader) error

// Net speaks a line protocol to a tracker bridge running on the host PC:
//
//	OPEN <file>      open the data file
//	CMD <command>    tracker configuration command
//	MSG <text>       timestamped message
//	START <trial>    start recording
//	STOP             stop recording
//	CLOSE            close the data file
//	TRANSFER <file>  answered by "DATA <n>" and n raw bytes, or "ERR <reason>"
//
// Writes go through a bounded queue drained by one goroutine; when the queue
// is full the message is dropped and counted. The first I/O failure
// downgrades the link to a Simulated one.
type Net struct {
	log      *zap.Logger
	conn     net.Conn
	rd       *bufio.Reader
	dataFile string
	fallback *Simulated

	queue   chan op
	wg      sync.WaitGroup
	sendMu  sync.RWMutex
	closed  bool
	live    atomic.Bool
	dropped atomic.Int64
}

// Dial connects to the bridge and sends the setup commands.
func Dial(ctx context.Context, opts Options, dataFile string, log *zap.Logger) (*Net, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}

	n := newNet(conn, dataFile, opts.QueueSize, log)
	n.start()
	n.enqueue(lineOp("OPEN " + dataFile))
	for _, cmd := range setupCommands(opts) {
		n.enqueue(lineOp("CMD " + cmd))
	}
	log.Info("Eye tracker connected", zap.String("address", opts.Address), zap.String("data_file", dataFile))
	return n, nil
}

func newNet(conn net.Conn, dataFile string, queueSize int, log *zap.Logger) *Net {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	log = log.With(zap.String("tracker", conn.RemoteAddr().String()))
	n := &Net{
		log:      log,
		conn:     conn,
		rd:       bufio.NewReader(conn),
		dataFile: dataFile,
		fallback: NewSimulated(log, dataFile),
		queue:    make(chan op, queueSize),
	}
	n.live.Store(true)
	return n
}

func (n *Net) start() {
	n.wg.Add(1)
	go n.writer()
}

func (n *Net) writer() {
	defer n.wg.Done()
	for o := range n.queue {
		if !n.live.Load() {
			o(nil, nil)
			continue
		}
		if err := o(n.conn, n.rd); err != nil {
			n.downgrade(err)
		}
	}
}

func (n *Net) downgrade(err error) {
	if !n.live.CompareAndSwap(true, false) {
		return
	}
	n.log.Warn("Eye tracker link failed; continuing in simulation mode",
		zap.Error(apperrors.DeviceUnavailable(err, "tracker link")))
	n.conn.Close()
}

func lineOp(line string) op {
	return func(conn net.Conn, _ *bufio.Reader) error {
		if conn == nil {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := io.WriteString(conn, oneLine(line)+"\n")
		return err
	}
}

// enqueue never blocks. It reports false when the op was not queued.
func (n *Net) enqueue(o op) bool {
	n.sendMu.RLock()
	defer n.sendMu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- o:
		return true
	default:
		if d := n.dropped.Add(1); d == 1 || d%100 == 0 {
			n.log.Warn("Tracker queue full; dropping messages", zap.Int64("dropped", d))
		}
		return false
	}
}

func (n *Net) SendMessage(text string) {
	text = Truncate(text)
	if !n.live.Load() {
		n.fallback.SendMessage(text)
		return
	}
	n.enqueue(lineOp("MSG " + text))
}

func (n *Net) SendVariable(name string, value any) {
	n.SendMessage(VariableMessage(name, value))
}

func (n *Net) DefineInterestArea(id, left, top, right, bottom int, label string) {
	n.SendMessage(InterestAreaMessage(id, left, top, right, bottom, label))
}

func (n *Net) StartRecording(trialID int) {
	if !n.live.Load() {
		n.fallback.StartRecording(trialID)
		return
	}
	n.enqueue(lineOp("START " + strconv.Itoa(trialID)))
	n.SendMessage("TRIAL_ID " + strconv.Itoa(trialID))
}

func (n *Net) StopRecording() {
	if !n.live.Load() {
		n.fallback.StopRecording()
		return
	}
	n.enqueue(lineOp("STOP"))
}

// TransferFile closes the tracker data file and copies it to localPath.
// It waits for every message queued before it.
func (n *Net) TransferFile(ctx context.Context, localPath string) error {
	if !n.live.Load() {
		return apperrors.DeviceUnavailable(nil, "tracker link is down; %s not transferred", n.dataFile)
	}

	done := make(chan error, 1)
	transfer := func(conn net.Conn, rd *bufio.Reader) error {
		if conn == nil {
			done <- errors.New("tracker link went down")
			return nil
		}
		err := n.receiveFile(ctx, conn, rd, localPath)
		var soft softError
		if err != nil && !errors.As(err, &soft) {
			n.downgrade(err)
		}
		done <- err
		return nil
	}

	n.sendMu.RLock()
	if n.closed {
		n.sendMu.RUnlock()
		return apperrors.DeviceUnavailable(nil, "tracker link is closed")
	}
	select {
	case n.queue <- lineOp("CLOSE"):
	case <-ctx.Done():
		n.sendMu.RUnlock()
		return ctx.Err()
	}
	select {
	case n.queue <- transfer:
	case <-ctx.Done():
		n.sendMu.RUnlock()
		return ctx.Err()
	}
	n.sendMu.RUnlock()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.DeviceUnavailable(err, "transfer %s", n.dataFile)
		}
		n.log.Info("Tracker data file saved", zap.String("path", localPath))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// softError fails a transfer while leaving the stream in sync.
type softError string

func (e softError) Error() string { return string(e) }

func (n *Net) receiveFile(ctx context.Context, conn net.Conn, rd *bufio.Reader, localPath string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(transferTimeout)
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if _, err := io.WriteString(conn, "TRANSFER "+n.dataFile+"\n"); err != nil {
		return err
	}
	header, err := rd.ReadString('\n')
	if err != nil {
		return err
	}
	header = strings.TrimSpace(header)
	if reason, ok := strings.CutPrefix(header, "ERR"); ok {
		return softError("bridge: " + strings.TrimSpace(reason))
	}
	sizeText, ok := strings.CutPrefix(header, "DATA ")
	if !ok {
		return fmt.Errorf("unexpected reply %q", header)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeText), 10, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("bad transfer size %q", sizeText)
	}

	f, err := createLocal(localPath)
	if err != nil {
		if _, derr := io.CopyN(io.Discard, rd, size); derr != nil {
			return derr
		}
		return softError(err.Error())
	}
	if _, err := io.CopyN(f, rd, size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func createLocal(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (n *Net) DataFile() string { return n.dataFile }

func (n *Net) Live() bool { return n.live.Load() }

// Dropped returns how many messages were dropped on a full queue.
func (n *Net) Dropped() int64 { return n.dropped.Load() }

// Close stops recording, drains the queue and closes the connection.
func (n *Net) Close() error {
	n.StopRecording()

	n.sendMu.Lock()
	if n.closed {
		n.sendMu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.sendMu.Unlock()

	n.wg.Wait()
	if d := n.dropped.Load(); d > 0 {
		n.log.Warn("Tracker messages dropped during session", zap.Int64("dropped", d))
	}
	if !n.live.Load() {
		return nil
	}
	n.live.Store(false)
	return n.conn.Close()
}
