package workerbridge

// Version is the release of this module. The worker host binary reports the
// same value through --version.
const Version = "0.1.0"
