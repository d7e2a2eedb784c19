package core

// PulseMeter measures the high time and period of a pulse train, such as an RC
// receiver PWM channel or a PPM frame, from pin-change interrupts.
//
// Edge is meant to run in interrupt context and reads the counter first thing,
// so the timestamp is as close to the edge as the interrupt latency allows.
type PulseMeter struct {
	counter *Counter

	lastRise uint64
	width    uint32
	period   uint32
	seen     uint8 // rising edges observed since Reset, saturates at 2
	valid    bool
}

// NewPulseMeter creates a pulse meter timestamping with the given counter.
func NewPulseMeter(c *Counter) *PulseMeter {
	return &PulseMeter{counter: c}
}

// Edge records a level change on the measured pin.
func (p *PulseMeter) Edge(high bool) {
	now := p.counter.Count()

	if high {
		if p.seen > 0 && now >= p.lastRise {
			p.period = clampTicks(now - p.lastRise)
		}
		if p.seen < 2 {
			p.seen++
		}
		p.lastRise = now
		return
	}

	if p.seen == 0 || now < p.lastRise {
		// falling edge without a rising edge, or the counter was reset
		return
	}
	p.width = clampTicks(now - p.lastRise)
	p.valid = p.seen >= 2
	RecordEvent(EvtPulse, p.width, p.period)
}

// Read returns the last pulse width and period in ticks. valid is false until
// a full period followed by a falling edge has been seen.
func (p *PulseMeter) Read() (width, period uint32, valid bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return p.width, p.period, p.valid
}

// Reset forgets any captured edges.
func (p *PulseMeter) Reset() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	*p = PulseMeter{counter: p.counter}
}

func clampTicks(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}
