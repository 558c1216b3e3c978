// Package stakewatch and its sub-packages implement a Discord bot that watches Divi wallets and tells their owners
// when the balance changes.
/*
stakewatch runs as a single service (cmd/stakewatch) made of:

1) a command front end (package bot) that answers direct messages. Users add up to three wallets, remove and list
 them, and ask for a summary with the Divi price and the rich list rank of each wallet.

2) an explorer (package explorer) that reads the balance of every tracked wallet on a fixed interval, compares it
 with the stored balance and notifies the owner of any change. A change equal to the staking reward is celebrated.

Architecture

Balances are read from the CryptoID block explorer (package lib/block/cryptoid) behind a product agnostic source
interface (package lib/block). Every request goes through a retry client (package lib/retry) with exponential backoff
and jitter; when all attempts fail the wallet is skipped until the next scan.

Wallets are persisted through a database agnostic interface (package lib/store) with MongoDB, PostgreSQL and in memory
implementations. Balances are decimal numbers end to end.

User actions and operational errors are sent to an audit webhook (package lib/audit). Optionally, balance changes are
published to a message broker (package lib/msg) so other services can follow them, and Redis (package lib/cache)
caches the Divi price and limits how many commands a user can send per minute.

Configuration is read from a JSON file, a .env file and SW_ environment variables (package lib/config).

The service can also be monitored via a Prometheus API by setting the flag "-m" at startup, which serves /metrics,
/healthz and /stats (package api).

*/
package stakewatch
