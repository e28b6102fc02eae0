package email

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// maxNotifications is the number of notifications kept for Recent
const maxNotifications = 50

// Notification is an error surfaced to the user
type Notification struct {
	At      time.Time `json:"at"`
	Account string    `json:"account"`
	Folder  string    `json:"folder,omitempty"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
}

// LogNotifier logs notifications and keeps the most recent ones
type LogNotifier struct {
	logger *logrus.Logger

	mu     sync.Mutex
	recent []Notification
}

// NewLogNotifier creates a notifier writing to logger
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(account *types.Account, folder *types.Folder, title string, err error) {
	note := Notification{At: time.Now(), Title: title, Message: err.Error()}
	fields := logrus.Fields{"title": title}
	if account != nil {
		note.Account = account.Name
		fields["account"] = account.Name
	}
	if folder != nil {
		note.Folder = folder.Name
		fields["folder"] = folder.Name
	}
	n.logger.WithFields(fields).WithError(err).Error("Notification")

	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, note)
	if len(n.recent) > maxNotifications {
		n.recent = n.recent[len(n.recent)-maxNotifications:]
	}
}

// Recent returns the kept notifications, newest first
func (n *LogNotifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.recent))
	for i, note := range n.recent {
		out[len(n.recent)-1-i] = note
	}
	return out
}
