// Package revocation stores blacklist entries for bearer tokens.
//
// Entries are keyed either by token id (narrow) or by subject id (broad). A
// subject entry matches every token of that subject whose issued-at is not
// after the entry's BlockedAt. Entries live for the maximum token lifetime
// by default and are removed by [List.Sweep].
package revocation
