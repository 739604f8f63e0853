package ldb

import "sync"

// ClientHandle identifies a barrier client.
type ClientHandle int

// ReceiverHandle identifies a barrier receiver.
type ReceiverHandle int

// SyncBarrier is the in-process local barrier. Clients report arrival with
// AtBarrier; once every live client has arrived the switched-on receivers
// run, and clients wait for ResumeClients to call their resume functions.
// With no receiver switched on, clients resume immediately.
type SyncBarrier struct {
	mu        sync.Mutex
	clients   []*barrierClient
	receivers []*callback
	live      int
	atCount   int
	on        bool
	inWindow  bool
}

type barrierClient struct {
	resume  func()
	arrived bool
}

// NewSyncBarrier returns a switched-on barrier with no clients.
func NewSyncBarrier() *SyncBarrier {
	return &SyncBarrier{on: true}
}

// AddClient registers a participant. resume runs when the barrier releases it.
func (b *SyncBarrier) AddClient(resume func()) ClientHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = append(b.clients, &barrierClient{resume: resume})
	b.live++
	return ClientHandle(len(b.clients) - 1)
}

// RemoveClient drops a participant; the barrier may now be complete.
func (b *SyncBarrier) RemoveClient(h ClientHandle) {
	b.mu.Lock()
	if int(h) < 0 || int(h) >= len(b.clients) || b.clients[h] == nil {
		b.mu.Unlock()
		return
	}
	if b.clients[h].arrived {
		b.atCount--
	}
	b.clients[h] = nil
	b.live--
	b.checkLocked()
}

// AddReceiver registers fn to run when every client has arrived.
func (b *SyncBarrier) AddReceiver(fn func()) ReceiverHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers = append(b.receivers, &callback{fn: fn, on: true})
	return ReceiverHandle(len(b.receivers) - 1)
}

func (b *SyncBarrier) RemoveReceiver(h ReceiverHandle) {
	b.setReceiver(h, func(i int) { b.receivers[i] = nil })
}

func (b *SyncBarrier) TurnOnReceiver(h ReceiverHandle) {
	b.setReceiver(h, func(i int) { b.receivers[i].on = true })
}

func (b *SyncBarrier) TurnOffReceiver(h ReceiverHandle) {
	b.setReceiver(h, func(i int) { b.receivers[i].on = false })
}

func (b *SyncBarrier) setReceiver(h ReceiverHandle, apply func(int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(h) >= 0 && int(h) < len(b.receivers) && b.receivers[h] != nil {
		apply(int(h))
	}
}

// AtBarrier records the client's arrival. The last arrival runs the
// receivers on the caller's goroutine.
func (b *SyncBarrier) AtBarrier(h ClientHandle) {
	b.mu.Lock()
	if int(h) < 0 || int(h) >= len(b.clients) || b.clients[h] == nil || b.clients[h].arrived {
		b.mu.Unlock()
		return
	}
	b.clients[h].arrived = true
	b.atCount++
	b.checkLocked()
}

// DecreaseBarrier counts c additional arrivals, for work that left without
// reaching the barrier.
func (b *SyncBarrier) DecreaseBarrier(c int) {
	b.mu.Lock()
	b.atCount += c
	b.checkLocked()
}

// TurnOn re-enables triggering and fires if everyone is already waiting.
func (b *SyncBarrier) TurnOn() {
	b.mu.Lock()
	b.on = true
	b.checkLocked()
}

// TurnOff stops arrivals from triggering the receivers.
func (b *SyncBarrier) TurnOff() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.on = false
}

// InWindow reports whether the barrier has fired and not yet resumed.
func (b *SyncBarrier) InWindow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inWindow
}

// checkLocked fires the barrier if complete. It releases b.mu.
func (b *SyncBarrier) checkLocked() {
	if !b.on || b.inWindow || b.live == 0 || b.atCount < b.live {
		b.mu.Unlock()
		return
	}
	b.inWindow = true
	var fns []func()
	for _, r := range b.receivers {
		if r != nil && r.on {
			fns = append(fns, r.fn)
		}
	}
	b.mu.Unlock()

	if len(fns) == 0 {
		b.ResumeClients()
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// ResumeClients closes the window and releases every waiting client.
func (b *SyncBarrier) ResumeClients() {
	b.mu.Lock()
	b.inWindow = false
	b.atCount = 0
	var fns []func()
	for _, c := range b.clients {
		if c == nil {
			continue
		}
		c.arrived = false
		if c.resume != nil {
			fns = append(fns, c.resume)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
