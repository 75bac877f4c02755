package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/csdb/internal/api"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/job"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type jobsMsg []*job.Job

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. A non-empty jobID narrows the stream server side. Returns
// sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL, apiKey, jobID string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		target := apiURL + "/events"
		if jobID != "" {
			target += "?job=" + url.QueryEscape(jobID)
		}
		req, err := newRequest(target, apiKey)
		if err != nil {
			return errMsg(err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current events.Event
		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if len(current.Data) > 0 {
					current.At = time.Now()
					ch <- current
					current = events.Event{}
				}
				continue
			}

			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.ID = id
				}
			case strings.HasPrefix(line, "event: "):
				current.Type = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.Data = json.RawMessage(line[6:])
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL+"/healthz", apiKey, &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

// fetchJobs loads the watched job, or the most recent jobs when jobID is empty.
func fetchJobs(apiURL, apiKey, jobID string) tea.Msg {
	if jobID != "" {
		var j job.Job
		if err := getJSON(apiURL+"/jobs/"+url.PathEscape(jobID), apiKey, &j); err != nil {
			return errMsg(err)
		}
		return jobsMsg{&j}
	}
	var list api.JobListResponse
	if err := getJSON(apiURL+"/jobs?limit=20", apiKey, &list); err != nil {
		return errMsg(err)
	}
	return jobsMsg(list.Jobs)
}

func newRequest(target, apiKey string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

func getJSON(target, apiKey string, v any) error {
	req, err := newRequest(target, apiKey)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
