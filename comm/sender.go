package comm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Structs

// Sender bundles information needed for disseminating
// locally committed updates to all peers. Updates are
// made durable in a pending log before the commit path
// returns; a background routine drains the log in batches
// and truncates it only after every peer acknowledged.
type Sender struct {
	lock          *sync.Mutex
	logger        log.Logger
	name          string
	tlsConfig     *tls.Config
	inc           chan Update
	msgInLog      chan struct{}
	writeLog      *os.File
	updLog        *os.File
	peers         map[string]string
	batchSize     int
	flushInterval time.Duration
	wg            *sync.WaitGroup
	shutdown      chan struct{}
}

// Functions

// InitSender initializes above struct, starts its
// background routines and returns the channel the commit
// path puts committed updates into. If the pending log
// already contains entries, e.g. after a crash between
// commit and dissemination, an initial run re-sends them.
func InitSender(logger log.Logger, name string, logFilePath string, tlsConfig *tls.Config, peers map[string]string, batchSize int, flushInterval time.Duration, downSender chan struct{}) (chan Update, error) {

	sender := &Sender{
		lock:          new(sync.Mutex),
		logger:        logger,
		name:          name,
		tlsConfig:     tlsConfig,
		inc:           make(chan Update),
		msgInLog:      make(chan struct{}, 1),
		peers:         peers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		wg:            new(sync.WaitGroup),
		shutdown:      make(chan struct{}, 3),
	}

	if sender.batchSize < 1 {
		sender.batchSize = 1
	}

	// Open log file descriptor for writing.
	write, err := os.OpenFile(logFilePath, (os.O_CREATE | os.O_WRONLY | os.O_APPEND), 0600)
	if err != nil {
		return nil, errors.Wrap(err, "opening pending update log for writing failed")
	}
	sender.writeLog = write

	// Open log file descriptor for updating.
	upd, err := os.OpenFile(logFilePath, os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "opening pending update log for updating failed")
	}
	sender.updLog = upd

	// Start eventual shutdown routine in background.
	go sender.Shutdown(downSender)

	// Start brokering routine in background.
	sender.wg.Add(1)
	go sender.BrokerUpdates()

	// Start sending routine in background.
	sender.wg.Add(1)
	go sender.SendUpdates()

	// Start triggering send events periodically.
	sender.wg.Add(1)
	go sender.TriggerSend()

	// If we just started the application, perform an
	// initial run to check if log file contains elements.
	sender.msgInLog <- struct{}{}

	return sender.inc, nil
}

// Shutdown awaits the sender global shutdown signal and
// in turn instructs involved goroutines to finish and
// clean up.
func (sender *Sender) Shutdown(downSender chan struct{}) {

	<-downSender

	level.Info(sender.logger).Log("msg", "sender shutting down")

	// Instruct other goroutines to shutdown.
	sender.shutdown <- struct{}{}
	sender.shutdown <- struct{}{}
	sender.shutdown <- struct{}{}

	close(sender.inc)
	close(sender.msgInLog)

	sender.wg.Wait()

	sender.lock.Lock()
	sender.writeLog.Close()
	sender.updLog.Close()
	sender.lock.Unlock()

	level.Info(sender.logger).Log("msg", "sender done")
}

// BrokerUpdates awaits committed updates from the local
// commit path on channel inc, stores each one durably in
// the pending log and passes on a signal that a new entry
// is available. Only after the fsync returned is the
// propagation obligation crash-safe.
func (sender *Sender) BrokerUpdates() {

	defer sender.wg.Done()

	for {

		select {

		case <-sender.shutdown:
			return

		case payload, ok := <-sender.inc:

			if !ok {
				return
			}

			line, err := EncodeUpdate(&payload)
			if err != nil {
				level.Error(sender.logger).Log("msg", "failed to encode update for pending log", "err", err)
				continue
			}

			sender.lock.Lock()

			// Write it to pending log file.
			_, err = sender.writeLog.Write(line)
			if err != nil {
				level.Error(sender.logger).Log("msg", "writing to pending update log failed", "err", err)
				sender.lock.Unlock()
				os.Exit(1)
			}

			// Save to stable storage.
			err = sender.writeLog.Sync()
			if err != nil {
				level.Error(sender.logger).Log("msg", "syncing pending update log to stable storage failed", "err", err)
				sender.lock.Unlock()
				os.Exit(1)
			}

			sender.lock.Unlock()

			// Indicate consecutive loop iterations
			// that an update is waiting in log.
			if len(sender.msgInLog) < 1 {
				sender.msgInLog <- struct{}{}
			}
		}
	}
}

// TriggerSend starts a timer that triggers a send event
// every flush interval. Supposed to routinely poke
// SendUpdates into draining entries that did not fill a
// whole batch.
func (sender *Sender) TriggerSend() {

	defer sender.wg.Done()

	triggerT := time.NewTimer(sender.flushInterval)

	for {

		select {

		case <-sender.shutdown:
			return

		case <-triggerT.C:

			// If buffered channel indicating waiting
			// updates is not full yet, make it full.
			if len(sender.msgInLog) < 1 {
				sender.msgInLog <- struct{}{}
			}

			triggerT.Reset(sender.flushInterval)
		}
	}
}

// SendUpdates waits for a signal indicating that updates
// are waiting in the pending log, reads up to one batch
// worth of them and sends the batch to all peers. The
// sent entries are removed from the log only after every
// peer acknowledged, so a failed peer leads to redelivery
// rather than loss. Duplicates are safe: receivers purge
// updates whose clock is already dominated.
func (sender *Sender) SendUpdates() {

	defer sender.wg.Done()

	for {

		select {

		case <-sender.shutdown:
			return

		case _, ok := <-sender.msgInLog:

			if !ok {
				return
			}

			sender.lock.Lock()

			batch, consumed, err := sender.readBatch()
			if err != nil {
				level.Error(sender.logger).Log("msg", "reading pending update log failed", "err", err)
				sender.lock.Unlock()
				os.Exit(1)
			}

			sender.lock.Unlock()

			// Nothing pending, wait for next signal.
			if len(batch.Updates) == 0 {
				continue
			}

			line, err := EncodeBatch(batch)
			if err != nil {
				level.Error(sender.logger).Log("msg", "failed to encode batch", "err", err)
				continue
			}

			// Send to all peers outside the lock; commits
			// must never wait on the network.
			allAcked := true
			for peer, addr := range sender.peers {

				err := sender.sendToPeer(addr, line)
				if err != nil {
					level.Warn(sender.logger).Log("msg", "could not deliver batch to peer, will retry", "peer", peer, "err", err)
					allAcked = false
				}
			}

			// Keep the entries for redelivery if any peer
			// did not acknowledge.
			if !allAcked {
				continue
			}

			sender.lock.Lock()

			err = sender.dropBytes(consumed)
			if err != nil {
				level.Error(sender.logger).Log("msg", "truncating pending update log failed", "err", err)
				sender.lock.Unlock()
				os.Exit(1)
			}

			sender.lock.Unlock()

			// We do not know how many entries are waiting
			// in the log file. Therefore attempt to send
			// the next batch; an empty log will abort it.
			if len(sender.msgInLog) < 1 {
				sender.msgInLog <- struct{}{}
			}
		}
	}
}

// readBatch reads up to batchSize entries from the front
// of the pending log. It returns the decoded batch and
// the number of log bytes those entries span. Caller
// holds the lock.
func (sender *Sender) readBatch() (*Batch, int64, error) {

	info, err := sender.updLog.Stat()
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not get pending update log information")
	}

	batch := &Batch{Sender: sender.name}

	if info.Size() == 0 {
		return batch, 0, nil
	}

	// Reset position to beginning of file.
	_, err = sender.updLog.Seek(0, io.SeekStart)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not reset position in pending update log")
	}

	// Copy contents of log file to prepared buffer.
	buf := bytes.NewBuffer(make([]byte, 0, info.Size()))
	_, err = io.Copy(buf, sender.updLog)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not copy pending update log contents to buffer")
	}

	var consumed int64

	for len(batch.Updates) < sender.batchSize {

		line, err := buf.ReadBytes('\n')
		if (err != nil) && (err != io.EOF) {
			return nil, 0, errors.Wrap(err, "error during extraction of line in pending update log")
		}

		if len(bytes.TrimSpace(line)) > 0 {

			u, decodeErr := DecodeUpdate(line)
			if decodeErr != nil {
				return nil, 0, errors.Wrap(decodeErr, "corrupt entry in pending update log")
			}

			batch.Updates = append(batch.Updates, *u)
			consumed += int64(len(line))
		}

		if err == io.EOF {
			break
		}
	}

	return batch, consumed, nil
}

// dropBytes removes the first consumed bytes from the
// pending log, effectively deleting the just sent
// entries. Caller holds the lock.
func (sender *Sender) dropBytes(consumed int64) error {

	info, err := sender.updLog.Stat()
	if err != nil {
		return errors.Wrap(err, "could not get pending update log information")
	}

	// Reset position to first byte after sent entries.
	_, err = sender.updLog.Seek(consumed, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "could not seek past sent entries in pending update log")
	}

	// Copy remaining contents of log file to buffer.
	buf := bytes.NewBuffer(make([]byte, 0, (info.Size() - consumed)))
	_, err = io.Copy(buf, sender.updLog)
	if err != nil {
		return errors.Wrap(err, "could not copy pending update log contents to buffer")
	}

	// Copy reduced buffer contents back to beginning of
	// log file, effectively deleting the sent entries.
	_, err = sender.updLog.Seek(0, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "could not reset position in pending update log")
	}

	newNumOfBytes, err := io.Copy(sender.updLog, buf)
	if err != nil {
		return errors.Wrap(err, "error during copying buffer contents back to pending update log")
	}

	// Now, truncate log file size to exact amount of
	// bytes copied from buffer.
	err = sender.updLog.Truncate(newNumOfBytes)
	if err != nil {
		return errors.Wrap(err, "could not truncate pending update log")
	}

	// Sync changes to stable storage.
	err = sender.updLog.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing pending update log to stable storage failed")
	}

	_, err = sender.updLog.Seek(0, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "could not reset position in pending update log")
	}

	return nil
}

// sendToPeer delivers one batch line to a peer and waits
// for its acknowledgement.
func (sender *Sender) sendToPeer(addr string, line []byte) error {

	var conn net.Conn
	var err error

	// Connect to peer's receiver, via TLS if configured.
	if sender.tlsConfig != nil {
		conn, err = tls.Dial("tcp", addr, sender.tlsConfig)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return errors.Wrap(err, "could not connect to peer")
	}
	defer conn.Close()

	err = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err != nil {
		return errors.Wrap(err, "could not set connection deadline")
	}

	_, err = conn.Write(line)
	if err != nil {
		return errors.Wrap(err, "could not send batch to peer")
	}

	// Wait for acknowledgement: the peer confirms it
	// persisted the batch to its inbound log.
	answer, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "error while reading acknowledgement from peer")
	}

	if answer != "ack\n" {
		return fmt.Errorf("peer answered '%s' instead of acknowledgement", answer)
	}

	return nil
}
