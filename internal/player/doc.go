// Package player launches and controls the external mpv process. One
// process plays one item: mpv exits on its own at end of file, so the exit
// status is the playback outcome. Runtime control (pause, volume, loop,
// quit) goes over mpv's JSON IPC socket.
//
// The scheduler drives sessions through the Controller interface; tests
// substitute a fake instead of launching a window.
package player
