// Package library tracks the playable assets registered under the media
// root. It derives display titles, resolves playback references to absolute
// paths without letting them escape the root, and reconciles the database
// against the filesystem when files appear or vanish out of band.
//
// Deletion is guarded: an asset the scheduler currently has loaded cannot be
// removed until playback moves on.
package library
