package validation

// Built-in CUE schemas. Every schema is compiled as
// schemaDefinitions + schemaHeader + the kind body, so kind bodies and
// custom schemas can use the shared definitions.

const schemaDefinitions = `
#DNSLabel:     =~"^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"
#DNSSubdomain: =~"^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$"
#Hostname:     =~"^(\\*\\.)?[a-z0-9]([-a-z0-9]*[a-z0-9])?(\\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$"
#Port:         int & >0 & <=65535
#Quantity:     string | number
#Protocol:     "TCP" | "UDP" | "SCTP"

#Metadata: {
	name:         string & #DNSSubdomain
	namespace?:   string & #DNSLabel
	labels?:      {[string]: string}
	annotations?: {[string]: string}
	...
}

#Selector: {
	matchLabels?: {[string]: string}
	matchExpressions?: [...{
		key:      string
		operator: "In" | "NotIn" | "Exists" | "DoesNotExist"
		values?: [...string]
	}]
	...
}

#ContainerPort: {
	containerPort: #Port
	name?:         string & #DNSLabel
	protocol?:     #Protocol
	...
}

#Container: {
	name:   string & #DNSLabel
	image:  string & !=""
	ports?: [...#ContainerPort]
	env?: [...{
		name: string & !=""
		...
	}]
	resources?: {
		limits?:   {[string]: #Quantity}
		requests?: {[string]: #Quantity}
		...
	}
	...
}

#PodSpec: {
	containers: [#Container, ...#Container]
	initContainers?: [...#Container]
	restartPolicy?: "Always" | "OnFailure" | "Never"
	...
}

#PodTemplate: {
	metadata?: {
		labels?: {[string]: string}
		...
	}
	spec: #PodSpec
	...
}

#ServicePort: {
	port:        #Port
	targetPort?: #Port | string
	nodePort?:   int & >=30000 & <=32767
	name?:       string & #DNSLabel
	protocol?:   #Protocol
	...
}

#IngressPath: {
	path?:    string & =~"^/"
	pathType: "Exact" | "Prefix" | "ImplementationSpecific"
	backend: {...}
	...
}

#AccessMode: "ReadWriteOnce" | "ReadOnlyMany" | "ReadWriteMany" | "ReadWriteOncePod"
`

const schemaHeader = `
apiVersion: string & !=""
kind:       string & !=""
metadata:   #Metadata
`

// builtinSchemas holds the kind bodies shipped with the binary.
var builtinSchemas = map[string]string{
	"Deployment": `
apiVersion: "apps/v1"
spec: {
	replicas?: int & >=0
	selector:  #Selector
	template:  #PodTemplate
	...
}
`,
	"StatefulSet": `
apiVersion: "apps/v1"
spec: {
	replicas?:    int & >=0
	serviceName?: string
	selector:     #Selector
	template:     #PodTemplate
	...
}
`,
	"DaemonSet": `
apiVersion: "apps/v1"
spec: {
	selector: #Selector
	template: #PodTemplate
	...
}
`,
	"Service": `
apiVersion: "v1"
spec: {
	type?: "ClusterIP" | "NodePort" | "LoadBalancer" | "ExternalName"
	selector?: {[string]: string}
	ports?: [...#ServicePort]
	...
}
`,
	"Ingress": `
apiVersion: "networking.k8s.io/v1"
spec: {
	ingressClassName?: string
	rules?: [...{
		host?: string & #Hostname
		http?: {
			paths: [#IngressPath, ...#IngressPath]
			...
		}
		...
	}]
	tls?: [...{
		hosts?: [...string]
		secretName?: string & #DNSSubdomain
		...
	}]
	...
}
`,
	"PersistentVolumeClaim": `
apiVersion: "v1"
spec: {
	accessModes: [#AccessMode, ...#AccessMode]
	storageClassName?: string
	resources: {
		requests: {
			storage: string & =~"^[0-9]+(\\.[0-9]+)?(Ki|Mi|Gi|Ti|Pi|Ei|k|M|G|T|P|E)?$"
			...
		}
		...
	}
	...
}
`,
	"ConfigMap": `
apiVersion: "v1"
data?: {[string]: string}
binaryData?: {[string]: string}
`,
}
