// Package media stores user-uploaded image assets (avatars, cover images) in
// S3-compatible object storage and hands back public URLs for the identity
// record.
package media
