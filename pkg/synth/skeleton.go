package synth

import (
	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

// Labels applied to every generated document.
const (
	LabelName      = "app.kubernetes.io/name"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	managerName    = "deployconf"
)

// Skeleton returns the starting document for a resource kind. Kinds
// without a known shape get metadata only.
func Skeleton(ref engine.ResourceRef, name, namespace string) manifest.Document {
	labels := map[string]interface{}{
		LabelName:      name,
		LabelManagedBy: managerName,
	}
	metadata := map[string]interface{}{
		"name":   name,
		"labels": labels,
	}
	if ref.Namespaced && namespace != "" {
		metadata["namespace"] = namespace
	}

	doc := manifest.Document{
		"apiVersion": ref.APIVersion(),
		"kind":       ref.Kind,
		"metadata":   metadata,
	}

	selector := map[string]interface{}{LabelName: name}
	podTemplate := map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": map[string]interface{}{LabelName: name},
		},
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"name": name},
			},
		},
	}

	switch ref.Kind {
	case "Deployment", "DaemonSet", "ReplicaSet":
		doc["spec"] = map[string]interface{}{
			"selector": map[string]interface{}{"matchLabels": selector},
			"template": podTemplate,
		}
	case "StatefulSet":
		doc["spec"] = map[string]interface{}{
			"serviceName": name,
			"selector":    map[string]interface{}{"matchLabels": selector},
			"template":    podTemplate,
		}
	case "Service":
		doc["spec"] = map[string]interface{}{
			"selector": selector,
			"ports": []interface{}{
				map[string]interface{}{"name": "http", "port": 80, "targetPort": 80},
			},
		}
	case "Ingress":
		doc["spec"] = map[string]interface{}{
			"rules": []interface{}{
				map[string]interface{}{
					"http": map[string]interface{}{
						"paths": []interface{}{
							map[string]interface{}{
								"path":     "/",
								"pathType": "Prefix",
								"backend": map[string]interface{}{
									"service": map[string]interface{}{
										"name": name,
										"port": map[string]interface{}{"number": 80},
									},
								},
							},
						},
					},
				},
			},
		}
	case "PersistentVolumeClaim":
		doc["spec"] = map[string]interface{}{
			"accessModes": []interface{}{"ReadWriteOnce"},
			"resources": map[string]interface{}{
				"requests": map[string]interface{}{"storage": "1Gi"},
			},
		}
	case "ConfigMap":
		doc["data"] = map[string]interface{}{}
	}

	return doc
}
