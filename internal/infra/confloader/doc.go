// Package confloader loads server configuration with koanf.
//
// Sources are merged in priority order: environment variables override
// the YAML config file, which overrides the compiled-in defaults the
// caller seeds the target struct with. A companion fsnotify Watcher
// re-reads the file on change for the settings that can be applied
// live.
package confloader
