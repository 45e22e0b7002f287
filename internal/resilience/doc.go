// Package resilience holds the failure-handling building blocks used on the
// outbound paths of the preview service.
//
//   - circuitbreaker: gobreaker wrappers. The fetcher keeps one breaker per
//     remote host; the SQL cache backend guards its connection pool with one.
//   - retry: bounded exponential backoff for transient fetch failures,
//     honouring upstream Retry-After hints.
//
// Example:
//
//	breakers := circuitbreaker.NewGroup(circuitbreaker.PageFetchConfig)
//	err := retry.WithBackoff(ctx, retry.PageFetchConfig(2), func() error {
//	    _, err := breakers.Get(host).Execute(fetchPage)
//	    return err
//	})
package resilience
