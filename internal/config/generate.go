package config

// DefaultConfigTOML is a complete, commented sample prefork.toml.
const DefaultConfigTOML = `# prefork configuration file

[supervisor]
workers = 2                     # desired worker pool size
# pidfile = ""                  # master PID file path (empty disables)
# log_level = "info"            # debug, info, warn, error
# log_format = "text"           # text, json

[worker]
command = "/bin/sleep"          # REQUIRED: command run once per work step
args = ["1"]                    # command arguments
# steps = 0                     # steps before natural completion (0 = unbounded)
# pause_ms = 0                  # delay after each step, milliseconds

[metrics]
# enabled = false               # enable Prometheus endpoint
# listen = "127.0.0.1:9209"     # HTTP listen address
# username = ""                 # HTTP Basic Auth username
# password = ""                 # bcrypt-hashed password (see: prefork hash-password)
`
