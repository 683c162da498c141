// Package workspace coordinates the package folders of a multi-root
// editor workspace.
//
// A Workspace tracks an ordered registry of folders (each a pack
// package root with its own operation queue), a three-valued focus
// (undetermined, none, or a folder), and an ordered list of observers
// notified synchronously on every transition.
//
// All transitions are serialized: adding and removing roots, focus
// changes and settings updates happen one at a time, and each one's
// observer dispatch completes before the next transition begins.
package workspace
