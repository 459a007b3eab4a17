package popup

import "time"

// Config holds the popup's timing and size settings
type Config struct {
	MaxAge      time.Duration // age limit for the initial catch-up
	MaxMessages int           // message limit for the initial catch-up
	MaxNames    int           // presence limit for the initial catch-up, -1 for the server default

	PollFallbackDelay time.Duration // delay before the first poll
	ReacquireMargin   time.Duration // re-acquire when the key expires sooner than this
	BanDuration       time.Duration
	LeaveTimeout      time.Duration

	UseWait bool // long-wait instead of polling
	Notify  bool // desktop notification when mentioned
}

// DefaultConfig returns the standard popup settings
func DefaultConfig() Config {
	return Config{
		MaxAge:            10 * time.Minute,
		MaxMessages:       10,
		MaxNames:          -1,
		PollFallbackDelay: 2 * time.Second,
		ReacquireMargin:   5 * time.Minute,
		BanDuration:       4 * time.Hour,
		LeaveTimeout:      5 * time.Second,
	}
}
