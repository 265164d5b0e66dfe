//go:build linux

package processstate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// USER_HZ as exposed through /proc; fixed at 100 on every supported arch.
const clockTicksPerSecond = 100

// start times are whole clock ticks
const startTimeResolution = time.Second / clockTicksPerSecond

// Kernel truncates comm to TASK_COMM_LEN-1 bytes.
const maxCommLength = 15

var (
	bootTimeOnce sync.Once
	bootTime     int64
	bootTimeErr  error
)

func readBootTime() (int64, error) {
	bootTimeOnce.Do(func() {
		f, err := os.Open("/proc/stat")
		if err != nil {
			bootTimeErr = err
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "btime ") {
				bootTime, bootTimeErr = strconv.ParseInt(strings.TrimSpace(line[len("btime "):]), 10, 64)
				return
			}
		}
		bootTimeErr = fmt.Errorf("btime not found in /proc/stat")
	})
	return bootTime, bootTimeErr
}

// processStartTime converts field 22 of /proc/<pid>/stat into wall-clock time
func processStartTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return time.Time{}, err
	}

	// comm may contain spaces and parentheses; fields resume after the last ')'
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return time.Time{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data[end+1:]))
	// fields[0] is field 3 (state), so starttime (field 22) is fields[19]
	if len(fields) < 20 {
		return time.Time{}, fmt.Errorf("short stat for pid %d", pid)
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid starttime for pid %d: %w", pid, err)
	}

	btime, err := readBootTime()
	if err != nil {
		return time.Time{}, err
	}

	nanos := btime*int64(time.Second) + ticks*(int64(time.Second)/clockTicksPerSecond)
	return time.Unix(0, nanos), nil
}

func findProcessesByName(name string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	comm := name
	if len(comm) > maxCommLength {
		comm = comm[:maxCommLength]
	}

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) != comm {
			continue
		}
		// comm is truncated; disambiguate long names through the exe link
		if len(name) > maxCommLength {
			exe, err := os.Readlink(filepath.Join("/proc", entry.Name(), "exe"))
			if err != nil || filepath.Base(exe) != name {
				continue
			}
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
