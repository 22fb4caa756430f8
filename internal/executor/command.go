package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sannti97/superstreamer/internal/jobs"
)

// Command invokes an external stage executor binary (the actual transcoder or
// packager lives outside this process). The normalized payload goes to the
// process as JSON on stdin, every stdout/stderr line becomes a job log line,
// and a non-zero exit reports failure.
type Command struct {
	name string
	args []string
}

func NewCommand(cmdline string) (*Command, error) {
	fields := strings.Fields(strings.TrimSpace(cmdline))
	if len(fields) == 0 {
		return nil, fmt.Errorf("executor command is empty")
	}
	return &Command{name: fields[0], args: fields[1:]}, nil
}

// commandInput is the wire shape handed to the executor process.
type commandInput struct {
	JobID   string       `json:"job_id"`
	Stage   jobs.Stage   `json:"stage"`
	Payload jobs.Payload `json:"payload"`
}

// Executor adapts the command to the queue's executor contract.
func (c *Command) Executor() jobs.Executor {
	return func(ctx context.Context, job *jobs.Job, logf func(string)) error {
		cmdPath, err := exec.LookPath(c.name)
		if err != nil {
			return err
		}

		input, err := json.Marshal(commandInput{
			JobID:   job.ID,
			Stage:   job.Stage,
			Payload: job.Payload,
		})
		if err != nil {
			return err
		}

		cmd := exec.CommandContext(ctx, cmdPath, c.args...)
		cmd.Stdin = bytes.NewReader(input)

		pr, pw := io.Pipe()
		cmd.Stdout = pw
		cmd.Stderr = pw

		scanDone := make(chan struct{})
		go func() {
			defer close(scanDone)
			scanner := bufio.NewScanner(pr)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				logf(scanner.Text())
			}
		}()

		if err := cmd.Start(); err != nil {
			_ = pw.Close()
			<-scanDone
			return err
		}
		waitErr := cmd.Wait()
		_ = pw.Close()
		<-scanDone
		return waitErr
	}
}
