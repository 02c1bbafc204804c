// Package minio stores index blobs in MinIO or any S3-compatible bucket.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "indexes", "tlsh/")
package minio
