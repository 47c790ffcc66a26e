package comm

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/go-lattice/lattice/clock"
)

// Structs

// Applier is the collaborator the receiver hands causally
// admitted updates to, one at a time and in causal order
// per origin.
type Applier interface {
	Incoming(u Update) error
}

// Receiver bundles all information needed to accept
// incoming update batches, persist them and apply them in
// causal order. It owns the node's vector clock: local
// commits advance the own entry through the incVClock
// handshake, received updates fold foreign entries.
type Receiver struct {
	lock      *sync.Mutex
	logger    log.Logger
	name      string
	msgInLog  chan struct{}
	socket    net.Listener
	writeLog  *os.File
	updLog    *os.File
	incVClock chan string
	updVClock chan clock.Clock
	vclock    clock.Clock
	vclockLog *os.File
	applier   Applier
	wg        *sync.WaitGroup
	shutdown  chan struct{}
}

// Functions

// InitReceiver initializes above struct, restores the
// persisted vector clock and starts involved background
// routines. It returns the channel pair the commit path
// uses to request vector clock increments and receive the
// advanced clock back.
func InitReceiver(logger log.Logger, name string, logFilePath string, vclockLogPath string, socket net.Listener, applier Applier, downRecv chan struct{}, nodes []string) (chan string, chan clock.Clock, error) {

	recv := &Receiver{
		lock:      new(sync.Mutex),
		logger:    logger,
		name:      name,
		msgInLog:  make(chan struct{}, 1),
		socket:    socket,
		incVClock: make(chan string),
		updVClock: make(chan clock.Clock),
		vclock:    clock.New(nodes...),
		applier:   applier,
		wg:        new(sync.WaitGroup),
		shutdown:  make(chan struct{}, 4),
	}

	// Including the entry of this node.
	recv.vclock[name] = 0

	// Open log file descriptor for writing.
	write, err := os.OpenFile(logFilePath, (os.O_CREATE | os.O_WRONLY | os.O_APPEND), 0600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening inbound update log for writing failed")
	}
	recv.writeLog = write

	// Open log file descriptor for updating.
	upd, err := os.OpenFile(logFilePath, os.O_RDWR, 0600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening inbound update log for updating failed")
	}
	recv.updLog = upd

	// Initially, reset position in update file to beginning.
	_, err = recv.updLog.Seek(0, io.SeekStart)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not reset position in inbound update log")
	}

	// Open log file of last known vector clock values.
	vclockLog, err := os.OpenFile(vclockLogPath, (os.O_CREATE | os.O_RDWR), 0600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening vector clock log failed")
	}
	recv.vclockLog = vclockLog

	// If vector clock entries were preserved, set them.
	err = recv.vclock.Load(recv.vclockLog)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading in stored vector clock entries failed")
	}

	// Start eventual shutdown routine in background.
	go recv.Shutdown(downRecv)

	// Start routine in background that takes care of
	// vector clock increments.
	recv.wg.Add(1)
	go recv.IncVClockEntry()

	// Apply received updates in background.
	recv.wg.Add(1)
	go recv.ApplyStoredMsgs()

	// If we just started the application, perform an
	// initial run to check if log file contains elements.
	recv.msgInLog <- struct{}{}

	// Start triggering msgInLog events periodically so
	// that delayed out-of-order updates get re-checked.
	recv.wg.Add(1)
	go recv.TriggerMsgApplier()

	// Accept incoming update batches in background.
	recv.wg.Add(1)
	go recv.AcceptIncMsgs()

	return recv.incVClock, recv.updVClock, nil
}

// Shutdown awaits the receiver global shutdown signal and
// in turn instructs involved goroutines to finish and
// clean up.
func (recv *Receiver) Shutdown(downRecv chan struct{}) {

	<-downRecv

	level.Info(recv.logger).Log("msg", "receiver shutting down")

	// Instruct other goroutines to shutdown.
	recv.shutdown <- struct{}{}
	recv.shutdown <- struct{}{}
	recv.shutdown <- struct{}{}
	recv.shutdown <- struct{}{}

	close(recv.incVClock)
	close(recv.updVClock)
	close(recv.msgInLog)

	// Unblock the accept loop.
	recv.lock.Lock()
	recv.socket.Close()
	recv.lock.Unlock()

	recv.wg.Wait()

	recv.lock.Lock()
	recv.writeLog.Close()
	recv.updLog.Close()
	recv.vclockLog.Close()
	recv.lock.Unlock()

	level.Info(recv.logger).Log("msg", "receiver done")
}

// IncVClockEntry waits for an incoming name of a node on
// the channel defined during initialization. If the node
// is present in the vector clock, its value is
// incremented by one and the advanced clock is persisted
// and sent back. This is how the commit path obtains the
// commit clock for a locally originated event.
func (recv *Receiver) IncVClockEntry() {

	defer recv.wg.Done()

	for {

		select {

		case <-recv.shutdown:
			return

		case entry, ok := <-recv.incVClock:

			if !ok {
				return
			}

			recv.lock.Lock()

			if _, exists := recv.vclock[entry]; exists {

				// Increment the node's vector clock value.
				recv.vclock.Tick(entry)

				// Save updated vector clock to log file.
				err := recv.vclock.Save(recv.vclockLog)
				if err != nil {
					level.Error(recv.logger).Log("msg", "saving updated vector clock to file failed", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				// Send back a deep copy of the advanced
				// vector clock to the commit path.
				recv.updVClock <- recv.vclock.Copy()
			}

			recv.lock.Unlock()
		}
	}
}

// AcceptIncMsgs runs in background and waits for incoming
// update batches. As soon as received, it dispatches into
// next routine.
func (recv *Receiver) AcceptIncMsgs() {

	defer recv.wg.Done()

	for {

		select {

		case <-recv.shutdown:
			return

		default:

			// Accept request or fail on error.
			conn, err := recv.socket.Accept()
			if err != nil {

				if strings.Contains(err.Error(), "use of closed network connection") {
					return
				}

				level.Warn(recv.logger).Log("msg", "accepting incoming sync connection failed", "err", err)
				continue
			}

			go recv.StoreIncBatches(conn)
		}
	}
}

// TriggerMsgApplier starts a timer that triggers a
// msgInLog event when the duration elapsed. Supposed to
// routinely poke ApplyStoredMsgs into re-checking delayed
// updates in the log.
func (recv *Receiver) TriggerMsgApplier() {

	defer recv.wg.Done()

	triggerD := 5 * time.Second
	triggerT := time.NewTimer(triggerD)

	for {

		select {

		case <-recv.shutdown:
			return

		case <-triggerT.C:

			// If buffered channel indicating an arrived
			// update is not full yet, make it full.
			if len(recv.msgInLog) < 1 {
				recv.msgInLog <- struct{}{}
			}

			triggerT.Reset(triggerD)
		}
	}
}

// StoreIncBatches reads batch lines from the connection,
// persists each contained update as one line in the
// inbound log and acknowledges the batch only after the
// log was synced to stable storage.
func (recv *Receiver) StoreIncBatches(conn net.Conn) {

	defer conn.Close()

	r := bufio.NewReader(conn)

	for {

		// Read string until newline character is received.
		line, err := r.ReadString('\n')
		if err != nil {

			if err != io.EOF {
				level.Warn(recv.logger).Log("msg", "error while reading sync batch", "err", err)
			}

			return
		}

		batch, err := DecodeBatch([]byte(line))
		if err != nil {
			level.Warn(recv.logger).Log("msg", "discarding malformed sync batch", "err", err)
			return
		}

		recv.lock.Lock()

		stored := true

		for i := range batch.Updates {

			entry, err := EncodeUpdate(&batch.Updates[i])
			if err != nil {
				level.Error(recv.logger).Log("msg", "failed to re-encode update for inbound log", "err", err)
				stored = false
				break
			}

			// Write it to inbound log file.
			_, err = recv.writeLog.Write(entry)
			if err != nil {
				level.Error(recv.logger).Log("msg", "writing to inbound update log failed", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}
		}

		if stored {

			// Save to stable storage.
			err = recv.writeLog.Sync()
			if err != nil {
				level.Error(recv.logger).Log("msg", "syncing inbound update log to stable storage failed", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}
		}

		recv.lock.Unlock()

		if !stored {
			return
		}

		// Acknowledge persisted batch to sender.
		_, err = conn.Write([]byte("ack\n"))
		if err != nil {
			level.Warn(recv.logger).Log("msg", "error while acknowledging sync batch", "err", err)
			return
		}

		// Indicate to applying routine that new updates
		// are available to process.
		if len(recv.msgInLog) < 1 {
			recv.msgInLog <- struct{}{}
		}
	}
}

// ApplyStoredMsgs waits for a signal on a channel that
// indicates new available updates to process, reads the
// inbound log entry by entry and applies each causally
// admitted update. An update whose clock points at origin
// events this node has not yet seen is delayed in place:
// the read head moves past it and the periodic trigger
// re-checks it once the gap may have closed. A gap that
// never closes, e.g. because the origin node is
// permanently lost, keeps being reported here.
func (recv *Receiver) ApplyStoredMsgs() {

	defer recv.wg.Done()

	for {

		select {

		case <-recv.shutdown:
			return

		case _, ok := <-recv.msgInLog:

			if !ok {
				return
			}

			recv.lock.Lock()

			info, err := recv.updLog.Stat()
			if err != nil {
				level.Error(recv.logger).Log("msg", "could not get inbound update log information", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}

			// Store accessed file size for multiple use.
			logSize := info.Size()

			// Check if log file is empty and continue at
			// next for loop iteration if that is the case.
			if logSize == 0 {
				recv.lock.Unlock()
				continue
			}

			// Save current position of head for later use.
			curOffset, err := recv.updLog.Seek(0, io.SeekCurrent)
			if err != nil {
				level.Error(recv.logger).Log("msg", "error while retrieving current head position in inbound update log", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}

			// Account for case when the read head reached
			// the end of the log: delayed entries remain,
			// restart from the beginning on next trigger.
			if logSize <= curOffset {

				_, err = recv.updLog.Seek(0, io.SeekStart)
				if err != nil {
					level.Error(recv.logger).Log("msg", "could not reset position in inbound update log", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				recv.lock.Unlock()
				continue
			}

			// Copy rest of log contents to buffer.
			buf := bytes.NewBuffer(make([]byte, 0, (logSize - curOffset)))
			_, err = io.Copy(buf, recv.updLog)
			if err != nil {
				level.Error(recv.logger).Log("msg", "could not copy inbound update log contents to buffer", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}

			// Read update at head position from log file.
			line, err := buf.ReadBytes('\n')
			if (err != nil) && (err != io.EOF) {
				level.Error(recv.logger).Log("msg", "error during extraction of line in inbound update log", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}

			// Save length of just read entry for later use.
			lineLength := int64(len(line))

			u, err := DecodeUpdate(line)
			if err != nil {
				level.Error(recv.logger).Log("msg", "corrupt entry in inbound update log", "err", err)
				recv.lock.Unlock()
				os.Exit(1)
			}

			// Initially, set apply indicator to true. This
			// means that the update would be considered for
			// further processing.
			applyMsg := true

			// Check if this update is an already received
			// or the expected next one from the origin
			// node. If not, set indicator to false.
			if (u.Clock.Entry(u.Origin) != recv.vclock.Entry(u.Origin)) &&
				(u.Clock.Entry(u.Origin) != (recv.vclock.Entry(u.Origin) + 1)) {
				applyMsg = false
			}

			// Next, range over all received vector clock
			// values and check that the origin did not know
			// events of other nodes this node has not yet
			// seen itself.
			for node, value := range u.Clock {

				if (node != u.Origin) && (value > recv.vclock.Entry(node)) {
					applyMsg = false
					break
				}
			}

			if applyMsg {

				// If this update is actually the next
				// expected one, apply it. This ensures
				// that duplicates will get purged but
				// not applied.
				if u.Clock.Entry(u.Origin) == (recv.vclock.Entry(u.Origin) + 1) {

					err := recv.applier.Incoming(*u)
					if err != nil {
						level.Error(recv.logger).Log("msg", "applying admitted update failed", "err", err)
						recv.lock.Unlock()
						os.Exit(1)
					}
				}

				// Adjust local vector clock to continue
				// with pair-wise maximum of the entries.
				recv.vclock.Fold(u.Clock)

				// Save updated vector clock to log file.
				err = recv.vclock.Save(recv.vclockLog)
				if err != nil {
					level.Error(recv.logger).Log("msg", "saving updated vector clock to file failed", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				// Reset head position to curOffset saved at
				// beginning of loop and copy reduced buffer
				// contents back, effectively deleting the
				// just handled entry.
				_, err = recv.updLog.Seek(curOffset, io.SeekStart)
				if err != nil {
					level.Error(recv.logger).Log("msg", "could not reset position in inbound update log", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				newNumOfBytes, err := io.Copy(recv.updLog, buf)
				if err != nil {
					level.Error(recv.logger).Log("msg", "error during copying buffer contents back to inbound update log", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				// Now, truncate log file size to
				// (curOffset + newNumOfBytes), reducing the
				// file by the handled entry's length.
				err = recv.updLog.Truncate(curOffset + newNumOfBytes)
				if err != nil {
					level.Error(recv.logger).Log("msg", "could not truncate inbound update log", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				// Sync changes to stable storage.
				err = recv.updLog.Sync()
				if err != nil {
					level.Error(recv.logger).Log("msg", "syncing inbound update log to stable storage failed", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}

				// Reset position to beginning of file
				// because chances are high that we now can
				// proceed in order of the log.
				_, err = recv.updLog.Seek(0, io.SeekStart)
				if err != nil {
					level.Error(recv.logger).Log("msg", "could not reset position in inbound update log", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}
			} else {

				level.Debug(recv.logger).Log(
					"msg", "update out of causal order, delaying",
					"origin", u.Origin,
					"key", u.Key,
				)

				// Set position of head to byte after just
				// read entry, effectively delaying its
				// application.
				_, err = recv.updLog.Seek((curOffset + lineLength), io.SeekStart)
				if err != nil {
					level.Error(recv.logger).Log("msg", "error while moving position in inbound update log to next line", "err", err)
					recv.lock.Unlock()
					os.Exit(1)
				}
			}

			recv.lock.Unlock()

			// We do not know how many entries are waiting
			// in the log file. Therefore attempt to process
			// the next one; an empty log will abort it.
			if len(recv.msgInLog) < 1 {
				recv.msgInLog <- struct{}{}
			}
		}
	}
}
