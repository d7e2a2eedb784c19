package core

// GetTime returns the low 32 bits of the extended count, the clock value the
// Klipper protocol works in
func GetTime() uint32 {
	return uint32(GetCount())
}

// GetUptime returns the full extended count in timer ticks
func GetUptime() uint64 {
	return GetCount()
}

// TimerToUS converts timer ticks to whole microseconds
func TimerToUS(ticks uint64) uint64 {
	return ticks / uint64(MustCounter().Geometry().TicksPerMicro)
}
