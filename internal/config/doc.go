// Package config defines the settings used by door-server and door-ctl and
// provides helpers to load, validate and save them in YAML format.
//
// Settings are read once at startup: the YAML file first, then the DOOR_*
// environment overrides, then defaults for anything left unset.
package config
