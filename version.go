package piping

// Version is the relay version string served at /version.
const Version = "0.9.1"
