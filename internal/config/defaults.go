package config

// DirName is the per-user state directory under $HOME.
const DirName = ".wssh"

// DefaultURL is the page of a webssh server on its default port.
const DefaultURL = "http://127.0.0.1:8888/"

// DefaultTerm is the terminal type reported to the server.
const DefaultTerm = "xterm-256color"

// DefaultEncoding is used for server output unless configured otherwise.
const DefaultEncoding = "utf-8"

// DefaultGraceMs matches the surface teardown delay.
const DefaultGraceMs = 1000

// DefaultDiscoverTimeoutMs bounds mDNS browsing.
const DefaultDiscoverTimeoutMs = 3000
