package comm

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/clock"
)

// Structs

// recordingApplier captures every causally admitted update
// in arrival order.
type recordingApplier struct {
	lock    sync.Mutex
	applied []Update
}

// Functions

func (a *recordingApplier) Incoming(u Update) error {

	a.lock.Lock()
	defer a.lock.Unlock()

	a.applied = append(a.applied, u)

	return nil
}

func (a *recordingApplier) count() int {

	a.lock.Lock()
	defer a.lock.Unlock()

	return len(a.applied)
}

func (a *recordingApplier) at(i int) Update {

	a.lock.Lock()
	defer a.lock.Unlock()

	return a.applied[i]
}

// startReceiver boots a receiver on a loopback socket with
// logs below a fresh temporary directory.
func startReceiver(t *testing.T) (*recordingApplier, string, string, chan string, chan clock.Clock) {

	t.Helper()

	socket, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	dir := t.TempDir()
	applier := &recordingApplier{}
	down := make(chan struct{})
	t.Cleanup(func() { down <- struct{}{} })

	vclockLogPath := filepath.Join(dir, "vclock.log")

	incVClock, updVClock, err := InitReceiver(log.NewNopLogger(), "local", filepath.Join(dir, "inbound.log"), vclockLogPath, socket, applier, down, []string{"local", "remote"})
	require.Nil(t, err)

	return applier, socket.Addr().String(), vclockLogPath, incVClock, updVClock
}

// sendBatch dials the receiver's sync socket, delivers one
// batch line and waits for the persistence acknowledgement.
func sendBatch(t *testing.T, addr string, updates ...Update) {

	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.Nil(t, err)
	defer conn.Close()

	line, err := EncodeBatch(&Batch{Sender: "remote", Updates: updates})
	require.Nil(t, err)

	_, err = conn.Write(line)
	require.Nil(t, err)

	answer, err := bufio.NewReader(conn).ReadString('\n')
	require.Nil(t, err)
	assert.Equal(t, "ack\n", answer)
}

// remoteUpdate builds the tick-th update of node remote.
func remoteUpdate(tick uint64, amount int64) Update {

	return Update{
		Table:  "metrics",
		Column: "requests",
		Key:    "k",
		Kind:   algebra.Sum,
		Value:  algebra.IntValue(amount),
		Origin: "remote",
		Clock:  clock.Clock{"remote": tick},
	}
}

// TestReceiverAppliesInOrder checks the straight path: a
// batch in causal order is applied as-is.
func TestReceiverAppliesInOrder(t *testing.T) {

	applier, addr, _, _, _ := startReceiver(t)

	sendBatch(t, addr, remoteUpdate(1, 10), remoteUpdate(2, 20))

	require.Eventually(t, func() bool {
		return applier.count() == 2
	}, (5 * time.Second), (20 * time.Millisecond))

	assert.Equal(t, uint64(1), applier.at(0).Clock.Entry("remote"))
	assert.Equal(t, uint64(2), applier.at(1).Clock.Entry("remote"))
}

// TestReceiverDelaysCausalGap delivers the second event of
// a node before its first and checks that application is
// held back until the gap closes, then proceeds in causal
// order.
func TestReceiverDelaysCausalGap(t *testing.T) {

	applier, addr, _, _, _ := startReceiver(t)

	sendBatch(t, addr, remoteUpdate(2, 20), remoteUpdate(1, 10))

	require.Eventually(t, func() bool {
		return applier.count() == 2
	}, (10 * time.Second), (20 * time.Millisecond))

	assert.Equal(t, uint64(1), applier.at(0).Clock.Entry("remote"))
	assert.Equal(t, int64(10), applier.at(0).Value.Int)
	assert.Equal(t, uint64(2), applier.at(1).Clock.Entry("remote"))
	assert.Equal(t, int64(20), applier.at(1).Value.Int)
}

// TestReceiverPurgesDuplicates redelivers an already seen
// update, as an at-least-once sender will, and checks it is
// removed from the log without being applied again.
func TestReceiverPurgesDuplicates(t *testing.T) {

	applier, addr, _, _, _ := startReceiver(t)

	sendBatch(t, addr, remoteUpdate(1, 10))

	require.Eventually(t, func() bool {
		return applier.count() == 1
	}, (5 * time.Second), (20 * time.Millisecond))

	// Redelivery of the same event.
	sendBatch(t, addr, remoteUpdate(1, 10))

	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 1, applier.count())
}

// TestReceiverTicksOwnEntry exercises the clock handshake
// the commit path uses: each request advances the own
// entry by exactly one and persists the clock.
func TestReceiverTicksOwnEntry(t *testing.T) {

	_, _, vclockLogPath, incVClock, updVClock := startReceiver(t)

	incVClock <- "local"
	first := <-updVClock

	incVClock <- "local"
	second := <-updVClock

	assert.Equal(t, uint64(1), first.Entry("local"))
	assert.Equal(t, uint64(2), second.Entry("local"))
	assert.Equal(t, clock.OrderBefore, first.Compare(second))

	// The advanced clock reached stable storage.
	raw, err := os.ReadFile(vclockLogPath)
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(raw), "local:2"))
}

// TestReceiverFoldsRemoteEntries checks that applying a
// remote update folds its clock into the receiver's view,
// visible through the next commit clock handed out.
func TestReceiverFoldsRemoteEntries(t *testing.T) {

	applier, addr, _, incVClock, updVClock := startReceiver(t)

	sendBatch(t, addr, remoteUpdate(1, 10))

	require.Eventually(t, func() bool {
		return applier.count() == 1
	}, (5 * time.Second), (20 * time.Millisecond))

	incVClock <- "local"
	commitClock := <-updVClock

	assert.Equal(t, uint64(1), commitClock.Entry("local"))
	assert.Equal(t, uint64(1), commitClock.Entry("remote"))
}
