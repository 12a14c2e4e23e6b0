package logsplit

import "time"

const (
	// DefaultMaxChunkSize is the largest aggregate payload, in bytes, a
	// single log chunk may hold.
	DefaultMaxChunkSize = 4 * 1024 * 1024

	// DefaultProgressInterval is the number of scanned chunks between
	// progress reports.
	DefaultProgressInterval = 10000

	DefaultDatabaseURL  = "mongodb://localhost:27017"
	DefaultDatabaseName = "buildlogs"
	TestDatabaseName    = "logkeeper_test"

	BuildsCollection       = "builds"
	TestsCollection        = "tests"
	LogsCollection         = "logs"
	SplitJournalCollection = "split_journal"

	defaultConnectTimeout = 10 * time.Second
	defaultSocketTimeout  = 90 * time.Second
)

// Collections lists every collection the splitter reads or writes.
var Collections = []string{BuildsCollection, TestsCollection, LogsCollection, SplitJournalCollection}

// BuildRevision is set at link time.
var BuildRevision = ""
