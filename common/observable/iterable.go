package observable

// Iterable is anything Observable can range over to produce items —
// concretely, the receive side of whatever channel feeds it (log's logCh,
// netlinkconn's evCh, ...).
type Iterable[T any] <-chan T
