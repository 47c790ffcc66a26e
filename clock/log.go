package clock

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Functions

// Save writes the current status of the clock to the
// supplied log file so that it survives restarts. It
// expects to be the only goroutine currently operating
// on the log file.
func (c Clock) Save(log *os.File) error {

	clockString := ""

	// Construct string of current clock entries.
	for node, entry := range c {

		if clockString == "" {
			clockString = fmt.Sprintf("%s:%d", node, entry)
		} else {
			clockString = fmt.Sprintf("%s;%s:%d", clockString, node, entry)
		}
	}

	// Over-write old clock log. Reset position
	// of read-write head to beginning.
	_, err := log.Seek(0, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "could not reset position in clock log file")
	}

	// Write clock string to file.
	newNumOfBytes, err := log.WriteString(clockString)
	if err != nil {
		return errors.Wrap(err, "writing clock entries to log file failed")
	}

	// Truncate file to just written content.
	err = log.Truncate(int64(newNumOfBytes))
	if err != nil {
		return errors.Wrap(err, "could not truncate clock log file")
	}

	// Make sure to write to stable storage before returning.
	err = log.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing clock log file to stable storage failed")
	}

	return nil
}

// Load reads previously saved clock entries from the
// supplied log file and sets them in the clock. A log
// that is empty, e.g. on very first start, leaves the
// clock untouched and is not an error.
func (c Clock) Load(log *os.File) error {

	// Initially, reset position in log file to beginning.
	_, err := log.Seek(0, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "could not reset position in clock log file")
	}

	// Read all log contents.
	storedBytes, err := io.ReadAll(log)
	if err != nil {
		return errors.Wrap(err, "reading clock log file failed")
	}
	stored := string(storedBytes)

	// If log was empty (e.g., initially), return
	// success because we do not have anything to set.
	if stored == "" {
		return nil
	}

	// Otherwise, split at semicola.
	pairs := strings.Split(stored, ";")

	for _, pair := range pairs {

		// Split pairs at colon.
		entry := strings.Split(pair, ":")
		if len(entry) != 2 {
			return errors.Errorf("malformed clock log entry '%s'", pair)
		}

		// Convert entry string to uint64.
		entryNumber, err := strconv.ParseUint(entry[1], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid counter in clock log entry '%s'", pair)
		}

		// Set entry in clock.
		c[entry[0]] = entryNumber
	}

	return nil
}
