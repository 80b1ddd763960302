// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package eventlog

import (
	"fmt"
	"hash/fnv"
)

// ShardSubjectPrefix is the subject hierarchy for scheduled-message events.
// Shard n publishes to "messages.scheduled.<n>".
const ShardSubjectPrefix = "messages.scheduled"

// ShardFor maps a message ID onto a shard. All events for one message ID
// hash to the same shard, which is what gives the log its per-message
// ordering guarantee.
func ShardFor(messageID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(messageID)) //nolint:errcheck // fnv writes cannot fail
	return int(h.Sum32() % uint32(shards))
}

// SubjectForShard returns the subject for one shard.
func SubjectForShard(shard int) string {
	return fmt.Sprintf("%s.%d", ShardSubjectPrefix, shard)
}

// SubjectFor returns the subject a message's events publish to.
func SubjectFor(messageID string, shards int) string {
	return SubjectForShard(ShardFor(messageID, shards))
}

// StreamSubjects returns the subject filters the stream must cover.
func StreamSubjects() []string {
	return []string{ShardSubjectPrefix + ".*"}
}
