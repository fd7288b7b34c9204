// Package chatsync implements the per-conversation synchronization core:
// a live, paginated message window merged from a push feed and backward
// pagination, throttled typing-flag writes, read-receipt tracking, and
// outbound sends with denormalized conversation counters.
//
// One Session runs per open conversation view. All of its writers target
// the same conversation document but each owns a disjoint set of fields:
//
//	typing throttler      typing.<myRole>, typing.updatedAt, typing.by
//	read-receipt tracker  unread.<myRole>, lastReadAt.<myRole>
//	sender                lastMessage, lastMessageAt, totalMessages,
//	                      unread.<otherRole>, deletedFor.buyer,
//	                      deletedFor.seller, updatedAt
//
// No writer touches a field outside its row, and counters use the store's
// atomic increments, so unsynchronized concurrent writers (including other
// tabs and the counterpart) cannot clobber each other under field-level
// merge semantics.
//
// The read-own-write loop between the conversation watcher and the typing
// and read-receipt writers cannot feed back: typing writes are suppressed
// when the desired value equals the last confirmed one, and the mark-read
// write only fires while the own unread counter is non-zero, which the
// write itself clears.
package chatsync
