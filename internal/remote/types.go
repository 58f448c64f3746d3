package remote

// DeviceConfig is the authoritative device state returned by the config
// endpoint. Decay parameters are pointers so "absent" is distinguishable from
// zero and the device keeps its previous rates.
type DeviceConfig struct {
	DeviceID        string  `json:"deviceId"`
	PetName         string  `json:"petName"`
	PetType         string  `json:"petType"`
	UserName        string  `json:"userName"`
	Balance         int64   `json:"balance"`
	Coins           int64   `json:"coins"`
	BTCPrice        float64 `json:"btcPrice"`
	PollIntervalSec int     `json:"pollInterval"`
	ServerURL       string  `json:"serverUrl"`

	LastMessage     string `json:"lastMessage"`
	LastMessageType string `json:"lastMessageType"`
	LastPostTitle   string `json:"lastPostTitle"`
	LastSenderName  string `json:"lastSenderName"`

	GameCost   int `json:"gameCost"`
	GameReward int `json:"gameReward"`

	LastRejectionID    string `json:"lastRejectionId"`
	RejectionMessage   string `json:"rejectionMessage"`
	RejectionPostTitle string `json:"rejectionPostTitle"`

	HungerDecayPer24h    *float64 `json:"hungerDecayPer24h"`
	HappinessDecayPer24h *float64 `json:"happinessDecayPer24h"`

	CoinsEarnedSinceLastSync int64 `json:"coinsEarnedSinceLastSync"`

	HasNewJob    bool   `json:"hasNewJob"`
	NewJobTitle  string `json:"newJobTitle"`
	NewJobReward int64  `json:"newJobReward"`
}

// SpendAck is the server's answer to a spend sync. NewCoinBalance, when
// present, is the authoritative balance after applying the spend.
type SpendAck struct {
	NewCoinBalance *int64 `json:"newCoinBalance"`
}

// LeaderboardEntry is one row of the game leaderboard.
type LeaderboardEntry struct {
	PetName string `json:"petName"`
	Score   int64  `json:"score"`
	IsYou   bool   `json:"isYou"`
	Rank    int    `json:"rank"`
}

// ScoreAck is the server's answer to a score submission.
type ScoreAck struct {
	IsNewHighScore   bool               `json:"isNewHighScore"`
	IsPersonalBest   bool               `json:"isPersonalBest"`
	PersonalBest     int64              `json:"personalBest"`
	YourRank         int                `json:"yourRank"`
	CurrentScoreRank int                `json:"currentScoreRank"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
	PersonalEntry    *LeaderboardEntry  `json:"personalEntry"`
}

// Job is one open job from the user's groups.
type Job struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Reward    int64  `json:"reward"`
	Location  string `json:"location"`
	CreatedAt string `json:"createdAt"`
	GroupName string `json:"groupName"`
}
