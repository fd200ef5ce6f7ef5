package server

import (
	"time"

	"github.com/teranos/shopreel/pipeline"
)

// Status broadcast pacing: fast while the studio is busy, slow while
// everything is idle or terminal.
const (
	statusIntervalBusy = 2 * time.Second
	statusIntervalIdle = 15 * time.Second
)

// JobUpdateMessage pushes one job-record snapshot to subscribers.
type JobUpdateMessage struct {
	Type      string        `json:"type"` // "job_update"
	Job       *pipeline.Job `json:"job"`
	Timestamp int64         `json:"timestamp"`
}

// StatusMessage pushes pool and budget state to subscribers.
type StatusMessage struct {
	Type      string                 `json:"type"` // "status"
	Queue     *pipeline.QueueStats   `json:"queue,omitempty"`
	System    pipeline.SystemMetrics `json:"system"`
	Budget    *BudgetStatusPayload   `json:"budget,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// broadcastMessage sends a message to every connected client. Clients
// whose buffers are full miss the message; the next one catches them
// up because every payload is a full snapshot.
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.sendMsg <- msg:
			sent++
		default:
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

// startJobUpdateBroadcaster forwards queue subscription updates to
// WebSocket clients. This is the change-notification path: observers
// see each persisted job state without polling the API.
func (s *Server) startJobUpdateBroadcaster() {
	jobChan := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.queue.Unsubscribe(jobChan)

		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-jobChan:
				s.broadcastMessage(JobUpdateMessage{
					Type:      "job_update",
					Job:       job,
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}()

	s.logger.Infow("Job update broadcaster started")
}

// startStatusBroadcaster periodically pushes pool, queue, and budget
// state. The interval adapts: active jobs warrant a faster feed.
func (s *Server) startStatusBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		interval := statusIntervalIdle
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()
				if !hasClients {
					continue
				}

				msg := s.buildStatusMessage()
				s.broadcastMessage(msg)

				next := statusIntervalIdle
				if msg.System.JobsPending > 0 || msg.System.JobsActive > 0 {
					next = statusIntervalBusy
				}
				if next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}()

	s.logger.Infow("Status broadcaster started")
}

func (s *Server) buildStatusMessage() StatusMessage {
	msg := StatusMessage{
		Type:      "status",
		System:    s.pool.GetSystemMetrics(),
		Timestamp: time.Now().Unix(),
	}
	if stats, err := s.queue.GetStats(); err == nil {
		msg.Queue = stats
	}
	if s.budgetTracker != nil {
		if payload, err := s.budgetStatusPayload(); err == nil {
			msg.Budget = payload
		}
	}
	return msg
}
